package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "minerproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Upstream = "pool.example.com:4444"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:3333", cfg.Listen)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.ErrorIs(t, cfg.Validate(), ErrNoUpstream)
}

func TestLoadFile(t *testing.T) {
	t.Run("overlays defined keys", func(t *testing.T) {
		path := writeConfig(t, `
listen = "127.0.0.1:9999"
upstream = "eth.pool.example.com:4444"
dial_timeout = "3s"
max_sessions = 200
warn_non_json = true

[cache]
backend = "Redis"
redis_addr = "127.0.0.1:6379"
redis_db = 2

[log]
level = "debug"
dir = "/var/log/minerproxy"
`)

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
		assert.Equal(t, "eth.pool.example.com:4444", cfg.Upstream)
		assert.Equal(t, 3*time.Second, cfg.DialTimeout)
		assert.Equal(t, 200, cfg.MaxSessions)
		assert.True(t, cfg.WarnNonJSON)
		assert.Equal(t, CacheRedis, cfg.Cache.Backend)
		assert.Equal(t, "127.0.0.1:6379", cfg.Cache.RedisAddr)
		assert.Equal(t, 2, cfg.Cache.RedisDB)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "/var/log/minerproxy", cfg.Log.Dir)

		// untouched keys keep defaults
		assert.Equal(t, 5*time.Minute, cfg.ResolveTTL)
		assert.Equal(t, "minerproxy:dns:", cfg.Cache.Prefix)
		assert.Equal(t, "minerproxy", cfg.Log.Service)
		require.NoError(t, cfg.Validate())
	})

	t.Run("zero values are applied when defined", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, "upstream = \"a:1\"\nbuffer_size = 0\nresolve_ttl = \"0s\"\n"))
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.BufferSize)
		assert.Equal(t, time.Duration(0), cfg.ResolveTTL)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, `dial_timeout = "soon"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dial_timeout")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, `listne = "x"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listne")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		wantMsg string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty listen", mutate: func(c *Config) { c.Listen = " " }, wantErr: ErrNoListen},
		{name: "listen without port", mutate: func(c *Config) { c.Listen = "localhost" }, wantMsg: "invalid listen address"},
		{name: "empty upstream", mutate: func(c *Config) { c.Upstream = "" }, wantErr: ErrNoUpstream},
		{name: "upstream without port", mutate: func(c *Config) { c.Upstream = "pool" }, wantMsg: "invalid upstream address"},
		{name: "negative timeout", mutate: func(c *Config) { c.DialTimeout = -time.Second }, wantMsg: "dial timeout"},
		{name: "negative sessions", mutate: func(c *Config) { c.MaxSessions = -1 }, wantMsg: "max sessions"},
		{name: "negative buffer", mutate: func(c *Config) { c.BufferSize = -1 }, wantMsg: "buffer size"},
		{name: "negative ttl", mutate: func(c *Config) { c.ResolveTTL = -time.Second }, wantMsg: "resolve ttl"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: ErrCacheBackend},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backend = CacheRedis }, wantErr: ErrNoRedisAddress},
		{name: "no cache", mutate: func(c *Config) { c.Cache.Backend = CacheNone }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantMsg: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantMsg)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream = " pool.example.com:4444 "
	cfg.Cache.Backend = " Redis"
	cfg.Cache.RedisAddr = "127.0.0.1:6379 "
	cfg.Log.Dir = " /var/log/minerproxy "

	cfg.Normalize()

	assert.Equal(t, "pool.example.com:4444", cfg.Upstream)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "/var/log/minerproxy", cfg.Log.Dir)
	assert.NoError(t, cfg.Validate())
}

func TestLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = " WARN "

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)
}

func TestProxyConfig(t *testing.T) {
	cfg := validConfig()
	cfg.MaxSessions = 5
	cfg.WarnNonJSON = true

	pc := cfg.ProxyConfig()
	assert.Equal(t, cfg.Listen, pc.ListenAddr)
	assert.Equal(t, "pool.example.com:4444", pc.UpstreamAddr)
	assert.Equal(t, 10*time.Second, pc.DialTimeout)
	assert.Equal(t, 5, pc.MaxSessions)
	assert.True(t, pc.WarnNonJSON)
}
