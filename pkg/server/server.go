package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propfirmflow/propfirmflow-api/pkg/auth"
	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
	"github.com/propfirmflow/propfirmflow-api/pkg/identity"
	"github.com/propfirmflow/propfirmflow-api/pkg/newsletter"
)

// DefaultExemptPaths are the routes served without authentication: the
// root banner, the health probe, and the public newsletter signup.
var DefaultExemptPaths = []string{"/", "/api/health", "/api/newsletter/subscribe"}

// UserDirectory lists directory records for the admin endpoint.
// Implemented by [identity.Service].
type UserDirectory interface {
	ListAll(ctx context.Context) ([]identity.Record, error)
}

// SubscriberStore records newsletter signups. Implemented by
// [newsletter.Store].
type SubscriberStore interface {
	Subscribe(ctx context.Context, email string) (*newsletter.Subscriber, error)
}

// Deps are the collaborators the server routes to.
type Deps struct {
	// Auth is the authentication middleware from [auth.Middleware].
	Auth func(http.Handler) http.Handler

	// Directory backs the admin user listing.
	Directory UserDirectory

	// Newsletter backs the public subscribe endpoint.
	Newsletter SubscriberStore

	// RateLimiter guards /api paths. nil disables rate limiting.
	RateLimiter *RateLimiter

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Server is the HTTP front of the directory API.
type Server struct {
	cfg        Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New builds the route table and wraps it with authentication and, when
// configured, rate limiting. The limiter runs outermost so rejected
// floods never reach token verification.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pferr.Wrap(err, pferr.CodeValidation, "server: invalid config")
	}
	if deps.Auth == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "server: auth middleware must not be nil")
	}
	if deps.Directory == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "server: user directory must not be nil")
	}
	if deps.Newsletter == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "server: subscriber store must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &handlers{
		directory:  deps.Directory,
		newsletter: deps.Newsletter,
		logger:     deps.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/auth/profile", h.profile)
	mux.Handle("GET /api/auth/all", auth.RequireAdmin(http.HandlerFunc(h.listUsers)))
	mux.HandleFunc("POST /api/users/sync", h.userSync)
	mux.HandleFunc("POST /api/newsletter/subscribe", h.subscribe)

	var handler http.Handler = deps.Auth(mux)
	if deps.RateLimiter != nil {
		handler = deps.RateLimiter.Middleware(handler)
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  deps.Logger,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}, nil
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until Shutdown is called. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.cfg.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return pferr.Wrap(err, pferr.CodeUnavailable, "server: listen failed")
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by the configured
// shutdown timeout when ctx has no deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
