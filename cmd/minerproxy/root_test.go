package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/minerproxy/cacher"
	"github.com/cyberinferno/minerproxy/config"
)

func TestParseArgs(t *testing.T) {
	t.Run("flags only", func(t *testing.T) {
		cfg, err := parseArgs([]string{"-u", "pool.example.com:4444", "-l", "127.0.0.1:0", "--max-sessions", "10", "--dial-timeout", "2s"})
		require.NoError(t, err)

		assert.Equal(t, "pool.example.com:4444", cfg.Upstream)
		assert.Equal(t, "127.0.0.1:0", cfg.Listen)
		assert.Equal(t, 10, cfg.MaxSessions)
		assert.Equal(t, 2*time.Second, cfg.DialTimeout)
		assert.Equal(t, config.CacheMemory, cfg.Cache.Backend)
	})

	t.Run("flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "proxy.toml")
		require.NoError(t, os.WriteFile(path, []byte("upstream = \"file.pool:1\"\nmax_sessions = 3\n"), 0o600))

		cfg, err := parseArgs([]string{"--config", path, "--upstream", "flag.pool:2"})
		require.NoError(t, err)

		assert.Equal(t, "flag.pool:2", cfg.Upstream)
		assert.Equal(t, 3, cfg.MaxSessions)
	})

	t.Run("missing upstream fails validation", func(t *testing.T) {
		_, err := parseArgs([]string{"-l", "127.0.0.1:0"})
		assert.ErrorIs(t, err, config.ErrNoUpstream)
	})

	t.Run("cache flag is normalised like the file value", func(t *testing.T) {
		cfg, err := parseArgs([]string{"-u", "pool.example.com:4444", "--cache", " Redis ", "--redis-addr", "127.0.0.1:6379"})
		require.NoError(t, err)
		assert.Equal(t, config.CacheRedis, cfg.Cache.Backend)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseArgs([]string{"--bogus"})
		assert.Error(t, err)
	})

	t.Run("help", func(t *testing.T) {
		_, err := parseArgs([]string{"--help"})
		assert.ErrorIs(t, err, errHelp)
	})
}

func TestNewResolveCache(t *testing.T) {
	cfg := config.Default()

	t.Run("memory", func(t *testing.T) {
		c, closeFn, err := newResolveCache(cfg)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &cacher.MemoryCacher[[]string]{}, c)
	})

	t.Run("none", func(t *testing.T) {
		cfg := cfg
		cfg.Cache.Backend = config.CacheNone
		c, closeFn, err := newResolveCache(cfg)
		require.NoError(t, err)
		defer closeFn()
		assert.Nil(t, c)
	})

	t.Run("redis", func(t *testing.T) {
		cfg := cfg
		cfg.Cache.Backend = config.CacheRedis
		cfg.Cache.RedisAddr = "127.0.0.1:1"
		c, closeFn, err := newResolveCache(cfg)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &cacher.RedisCacher[[]string]{}, c)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := cfg
		cfg.Cache.Backend = "disk"
		_, _, err := newResolveCache(cfg)
		assert.ErrorIs(t, err, config.ErrCacheBackend)
	})
}

func TestExecute_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- execute(ctx, []string{"-l", "127.0.0.1:0", "-u", "127.0.0.1:1", "--log-level", "error"})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return")
	}
}
