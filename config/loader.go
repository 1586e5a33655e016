package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Listen      string `toml:"listen"`
	Upstream    string `toml:"upstream"`
	DialTimeout string `toml:"dial_timeout"`
	MaxSessions int    `toml:"max_sessions"`
	BufferSize  int    `toml:"buffer_size"`
	ResolveTTL  string `toml:"resolve_ttl"`
	WarnNonJSON bool   `toml:"warn_non_json"`

	Cache struct {
		Backend       string `toml:"backend"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		Prefix        string `toml:"prefix"`
	} `toml:"cache"`

	Log struct {
		Level   string `toml:"level"`
		Dir     string `toml:"dir"`
		Service string `toml:"service"`
	} `toml:"log"`
}

// LoadFile reads a TOML file and applies every key it defines on top of
// Default. Durations use Go syntax, e.g. "10s".
//
// Parameters:
//   - path: Location of the TOML file
//
// Returns:
//   - The merged configuration (not yet validated)
//   - An error if the file cannot be read or a value cannot be parsed
func LoadFile(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.Listen = raw.Listen
	}
	if meta.IsDefined("upstream") {
		cfg.Upstream = raw.Upstream
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.DialTimeout, err = parseDuration("dial_timeout", raw.DialTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("max_sessions") {
		cfg.MaxSessions = raw.MaxSessions
	}
	if meta.IsDefined("buffer_size") {
		cfg.BufferSize = raw.BufferSize
	}
	if meta.IsDefined("resolve_ttl") {
		if cfg.ResolveTTL, err = parseDuration("resolve_ttl", raw.ResolveTTL); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("warn_non_json") {
		cfg.WarnNonJSON = raw.WarnNonJSON
	}

	if meta.IsDefined("cache", "backend") {
		cfg.Cache.Backend = raw.Cache.Backend
	}
	if meta.IsDefined("cache", "redis_addr") {
		cfg.Cache.RedisAddr = raw.Cache.RedisAddr
	}
	if meta.IsDefined("cache", "redis_password") {
		cfg.Cache.RedisPassword = raw.Cache.RedisPassword
	}
	if meta.IsDefined("cache", "redis_db") {
		cfg.Cache.RedisDB = raw.Cache.RedisDB
	}
	if meta.IsDefined("cache", "prefix") {
		cfg.Cache.Prefix = raw.Cache.Prefix
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "dir") {
		cfg.Log.Dir = raw.Log.Dir
	}
	if meta.IsDefined("log", "service") {
		cfg.Log.Service = raw.Log.Service
	}

	cfg.Normalize()
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return d, nil
}
