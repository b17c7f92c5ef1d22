// Command server runs the PropFirmFlow directory API: an HTTP service
// that authenticates Auth0-issued bearer tokens, keeps the local user
// directory in sync with the identity provider, and serves the small
// public surface (health, root banner, newsletter signup).
//
// Configuration is resolved from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, e.g.:
//
//	AUTH_DOMAIN=tenant.auth0.com \
//	AUTH_AUDIENCE=https://api.propfirmflow.com \
//	AUTH_CLAIM_NAMESPACE=https://propfirmflow.com \
//	POSTGRES_URI=postgres://... \
//	go run ./cmd/server
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/propfirmflow/propfirmflow-api/pkg/auth"
	"github.com/propfirmflow/propfirmflow-api/pkg/clients/postgres"
	redisclient "github.com/propfirmflow/propfirmflow-api/pkg/clients/redis"
	"github.com/propfirmflow/propfirmflow-api/pkg/config"
	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
	"github.com/propfirmflow/propfirmflow-api/pkg/newsletter"
	"github.com/propfirmflow/propfirmflow-api/pkg/server"
)

// AuthConfig holds the identity-provider settings.
type AuthConfig struct {
	// Domain is the Auth0 tenant domain, e.g. "tenant.auth0.com".
	Domain string `yaml:"domain" env:"DOMAIN" required:"true"`

	// Audience is the API identifier expected in the aud claim.
	Audience string `yaml:"audience" env:"AUDIENCE" required:"true"`

	// ClaimNamespace is the prefix of the tenant's custom claims.
	ClaimNamespace string `yaml:"claim_namespace" env:"CLAIM_NAMESPACE" required:"true"`

	// AdminEmails is a comma-separated allowlist of administrator
	// addresses.
	AdminEmails []string `yaml:"admin_emails" env:"ADMIN_EMAILS"`

	// JWKSMaxRefreshesPerMinute bounds outbound JWKS fetches.
	JWKSMaxRefreshesPerMinute int `yaml:"jwks_max_refreshes_per_minute" env:"JWKS_MAX_REFRESHES_PER_MINUTE" envDefault:"5"`

	// ClockSkew is the leeway applied to exp and nbf checks.
	ClockSkew time.Duration `yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`

	// HTTPTimeout bounds each JWKS fetch.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT" envDefault:"10s"`
}

// AppConfig aggregates every component's configuration.
type AppConfig struct {
	LogLevel  string                 `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	Auth      AuthConfig             `yaml:"auth" env:"AUTH"`
	Server    server.Config          `yaml:"server" env:"SERVER"`
	Postgres  postgres.Config        `yaml:"postgres" env:"POSTGRES"`
	Redis     redisclient.Config     `yaml:"redis" env:"REDIS"`
	RateLimit server.RateLimitConfig `yaml:"ratelimit" env:"RATELIMIT"`
}

func main() {
	cfg := config.MustLoad[AppConfig](
		config.New().WithFile(os.Getenv("CONFIG_FILE")),
	)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg AppConfig, logger *slog.Logger) error {
	db, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	identityStore, err := identity.NewPostgresStore(db)
	if err != nil {
		return err
	}
	if err := identityStore.EnsureSchema(ctx); err != nil {
		return err
	}

	newsletterStore, err := newsletter.NewStore(db)
	if err != nil {
		return err
	}
	if err := newsletterStore.EnsureSchema(ctx); err != nil {
		return err
	}

	identityService, err := identity.NewService(identityStore, logger)
	if err != nil {
		return err
	}

	verifierCfg := auth.VerifierConfig{
		Domain:    cfg.Auth.Domain,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	}
	keys, err := auth.NewKeyCache(auth.KeyCacheConfig{
		JWKSURL:               verifierCfg.JWKSURL(),
		MaxRefreshesPerMinute: cfg.Auth.JWKSMaxRefreshesPerMinute,
		HTTPClient:            &http.Client{Timeout: cfg.Auth.HTTPTimeout},
		Logger:                logger,
	})
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(verifierCfg, keys)
	if err != nil {
		return err
	}
	extractor, err := auth.NewExtractor(cfg.Auth.ClaimNamespace)
	if err != nil {
		return err
	}

	authMiddleware, err := auth.Middleware(auth.MiddlewareConfig{
		Verifier:     verifier,
		Extractor:    extractor,
		Synchronizer: identityService,
		AdminEmails:  auth.ParseAdminEmails(strings.Join(cfg.Auth.AdminEmails, ",")),
		ExemptPaths:  server.DefaultExemptPaths,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	limiter, closeRedis := buildRateLimiter(ctx, cfg, logger)
	if closeRedis != nil {
		defer closeRedis()
	}

	srv, err := server.New(cfg.Server, server.Deps{
		Auth:        authMiddleware,
		Directory:   identityService,
		Newsletter:  newsletterStore,
		RateLimiter: limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// buildRateLimiter connects to redis and wires the limiter. A redis
// that is down or misconfigured disables rate limiting rather than
// blocking startup; the limiter itself also fails open per request.
func buildRateLimiter(ctx context.Context, cfg AppConfig, logger *slog.Logger) (*server.RateLimiter, func()) {
	if !cfg.RateLimit.Enabled {
		logger.Info("rate limiting disabled")
		return nil, nil
	}

	rdb, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, running without rate limiting", "error", err)
		return nil, nil
	}

	limiter, err := server.NewRateLimiter(rdb, cfg.RateLimit, logger)
	if err != nil {
		logger.Warn("invalid rate limit config, running without rate limiting", "error", err)
		_ = rdb.Close()
		return nil, nil
	}
	return limiter, func() { _ = rdb.Close() }
}

// logLevel parses the configured level, defaulting to info.
func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
