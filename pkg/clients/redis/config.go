// Package redis provides the Redis client backing the PropFirmFlow API
// rate limiter, wrapping go-redis with OpenTelemetry tracing and coded
// errors.
//
// Create a client with [NewClient]:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Tests inject a real in-process server (miniredis) or a mock through
// [NewFromClient]. Connection pooling, reconnection, and command retry
// are handled inside go-redis.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen bounds Redis commands recorded in trace spans so
// key names carrying client IPs or identifiers stay short in telemetry.
const maxStatementTruncateLen = 100

// Default pool and timeout settings. The API issues only counter and ping
// commands, so the defaults are modest.
const (
	// DefaultHost assumes a local or sidecar Redis in development.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the Redis logical database index.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of pooled connections.
	DefaultPoolSize = 10

	// DefaultMinIdleConns keeps warm connections for burst traffic.
	DefaultMinIdleConns = 2

	// DefaultMaxRetries is the per-command retry limit for transient
	// network failures. Set to -1 to disable retries.
	DefaultMaxRetries = 3

	// DefaultDialTimeout bounds new connection establishment.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout bounds waiting for a command reply.
	DefaultReadTimeout = 3 * time.Second

	// DefaultWriteTimeout bounds writing a command to the connection.
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout bounds [Client.Health] when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that redacts its value when printed or
// serialized, guarding the Redis password against accidental logging.
// Use [Secret.Value] to retrieve the real value.
type Secret string

// redacted replaces the secret value in all string renderings.
const redacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder for %#v formatting.
func (s Secret) GoString() string { return redacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted
// placeholder, keeping the secret out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds Redis connection settings. When URI is set it takes
// precedence over the structured fields (Host, Port, DB, Password).
type Config struct {
	// URI is a full connection string, e.g. "redis://:pass@host:6379/0".
	// The "rediss://" scheme enables TLS.
	URI string `yaml:"uri,omitempty" env:"URI"`

	// Host is the Redis server hostname.
	Host string `yaml:"host,omitempty" env:"HOST"`

	// Port is the Redis server port.
	Port int `yaml:"port,omitempty" env:"PORT"`

	// DB is the Redis logical database index (0-15 by default).
	DB int `yaml:"db" env:"DB"`

	// Password is the Redis password, redacted in logs via [Secret].
	Password Secret `yaml:"-" env:"PASSWORD"`

	// PoolSize is the maximum number of pooled connections.
	PoolSize int `yaml:"pool_size,omitempty" env:"POOL_SIZE"`

	// MinIdleConns is the number of idle connections kept warm.
	MinIdleConns int `yaml:"min_idle_conns,omitempty" env:"MIN_IDLE_CONNS"`

	// MaxRetries is the per-command retry limit. -1 disables retries.
	MaxRetries int `yaml:"max_retries,omitempty" env:"MAX_RETRIES"`

	// DialTimeout bounds new connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`

	// ReadTimeout bounds waiting for a command reply.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" env:"READ_TIMEOUT"`

	// WriteTimeout bounds writing a command to the connection.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`

	// TLSEnabled turns on TLS for structured configuration. With URI
	// configuration, use the "rediss://" scheme instead.
	TLSEnabled bool `yaml:"tls_enabled,omitempty" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config with development-friendly defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate applies defaults to zero-valued fields and returns the first
// invalid setting found. When URI is set, only the URI scheme is checked;
// the structured address fields are ignored.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: config db must not be negative, got %d", c.DB)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)",
			c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

// applyDefaults fills zero-valued pool and timeout settings.
func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement shortens a command for span attributes. Rune-aware so
// multi-byte characters are not split.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
