// Package server exposes the HTTP surface of the directory API: the
// health and root endpoints, the authenticated profile and user-sync
// endpoints, the admin listing, and the public newsletter subscription.
// Requests under /api pass through a redis-backed fixed-window rate
// limiter before authentication.
package server

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds the HTTP server settings.
type Config struct {
	// Host is the listen address.
	Host string `yaml:"host" env:"HOST" envDefault:"0.0.0.0"`

	// Port is the listen port.
	Port int `yaml:"port" env:"PORT" envDefault:"10000"`

	// ReadTimeout bounds reading the full request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout bounds writing the response.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RateLimitConfig holds the fixed-window limiter settings.
type RateLimitConfig struct {
	// Enabled turns the limiter on. When false the middleware is not
	// installed at all.
	Enabled bool `yaml:"enabled" env:"ENABLED" envDefault:"true"`

	// Window is the fixed window length.
	Window time.Duration `yaml:"window" env:"WINDOW" envDefault:"15m"`

	// Max is the number of requests allowed per client IP per window.
	Max int64 `yaml:"max" env:"MAX" envDefault:"200"`
}

// Validate checks the limiter configuration.
func (c RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.Max < 1 {
		return fmt.Errorf("max must be at least 1, got %d", c.Max)
	}
	return nil
}
