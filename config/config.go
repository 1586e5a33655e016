// Package config loads the proxy settings from defaults, an optional TOML
// file, and command line overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/minerproxy/bufferpool"
	"github.com/cyberinferno/minerproxy/proxy"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

var (
	ErrNoListen       = errors.New("listen address is required")
	ErrNoUpstream     = errors.New("upstream address is required")
	ErrCacheBackend   = errors.New("unknown cache backend")
	ErrNoRedisAddress = errors.New("redis cache requires redis_addr")
)

// Config is the complete runtime configuration.
type Config struct {
	Listen      string
	Upstream    string
	DialTimeout time.Duration
	MaxSessions int
	BufferSize  int
	ResolveTTL  time.Duration
	WarnNonJSON bool

	Cache CacheConfig
	Log   LogConfig
}

// CacheConfig selects where resolved upstream addresses are cached.
type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

// LogConfig controls the logger.
type LogConfig struct {
	Level   string
	Dir     string // empty logs to stdout only
	Service string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Listen:      "0.0.0.0:3333",
		DialTimeout: 10 * time.Second,
		BufferSize:  bufferpool.DefaultBufferSize,
		ResolveTTL:  5 * time.Minute,
		Cache: CacheConfig{
			Backend: CacheMemory,
			Prefix:  "minerproxy:dns:",
		},
		Log: LogConfig{
			Level:   "info",
			Service: "minerproxy",
		},
	}
}

// Normalize trims surrounding space from addresses and names and lowercases
// the cache backend, so file and flag values compare the same way.
func (c *Config) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.Upstream = strings.TrimSpace(c.Upstream)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Cache.RedisAddr = strings.TrimSpace(c.Cache.RedisAddr)
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Dir = strings.TrimSpace(c.Log.Dir)
	c.Log.Service = strings.TrimSpace(c.Log.Service)
}

// Validate reports the first inconsistency found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return ErrNoListen
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if strings.TrimSpace(c.Upstream) == "" {
		return ErrNoUpstream
	}
	if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
		return fmt.Errorf("invalid upstream address %q: %w", c.Upstream, err)
	}

	if c.DialTimeout < 0 {
		return fmt.Errorf("dial timeout must not be negative, got %s", c.DialTimeout)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative, got %d", c.MaxSessions)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative, got %d", c.BufferSize)
	}
	if c.ResolveTTL < 0 {
		return fmt.Errorf("resolve ttl must not be negative, got %s", c.ResolveTTL)
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return ErrNoRedisAddress
		}
	default:
		return fmt.Errorf("%w %q", ErrCacheBackend, c.Cache.Backend)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	return level, nil
}

// ProxyConfig returns the settings consumed by proxy.Server.
func (c *Config) ProxyConfig() proxy.Config {
	return proxy.Config{
		ListenAddr:   c.Listen,
		UpstreamAddr: c.Upstream,
		DialTimeout:  c.DialTimeout,
		MaxSessions:  c.MaxSessions,
		WarnNonJSON:  c.WarnNonJSON,
	}
}
