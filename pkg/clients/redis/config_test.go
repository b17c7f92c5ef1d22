package redis

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "redis uri",
			mutate: func(c *Config) { c.URI = "redis://:pass@cache:6379/1" },
		},
		{
			name:   "rediss uri",
			mutate: func(c *Config) { c.URI = "rediss://cache:6380/0" },
		},
		{
			name:    "wrong uri scheme",
			mutate:  func(c *Config) { c.URI = "http://cache:6379" },
			wantErr: "scheme",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "negative db",
			mutate:  func(c *Config) { c.DB = -1 },
			wantErr: "db",
		},
		{
			name:    "pool smaller than idle floor",
			mutate:  func(c *Config) { c.PoolSize = 1; c.MinIdleConns = 5 },
			wantErr: "pool_size",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.ReadTimeout = -1 },
			wantErr: "timeouts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	s := Secret("hunter2")

	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, s.GoString())
	assert.Equal(t, "hunter2", s.Value())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "hunter2")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()

	short := "INCR ratelimit:10.0.0.1"
	assert.Equal(t, short, truncateStatement(short))

	long := "SET session " + strings.Repeat("x", 200)
	got := truncateStatement(long)
	assert.Equal(t, maxStatementTruncateLen+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}
