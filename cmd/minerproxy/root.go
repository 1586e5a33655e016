package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/minerproxy/bufferpool"
	"github.com/cyberinferno/minerproxy/cacher"
	"github.com/cyberinferno/minerproxy/config"
	"github.com/cyberinferno/minerproxy/logger"
	"github.com/cyberinferno/minerproxy/proxy"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

var errHelp = errors.New("help requested")

// execute parses args and runs the proxy until ctx is done.
func execute(ctx context.Context, args []string) error {
	cfg, err := parseArgs(args)
	if errors.Is(err, errHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	cache, closeCache, err := newResolveCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	resolver := proxy.NewResolver(cache, cfg.ResolveTTL)
	dialer := proxy.NewDialer(resolver, cfg.DialTimeout)
	pool := bufferpool.NewFixedPool(cfg.BufferSize)

	log.Info("starting minerproxy",
		logger.Field{Key: "version", Value: version},
		logger.Field{Key: "buffer_size", Value: pool.Size()},
		logger.Field{Key: "cache", Value: cfg.Cache.Backend},
	)

	return proxy.NewServer(cfg.ProxyConfig(), dialer, pool, log).Run(ctx)
}

// parseArgs builds the configuration from defaults, the optional config
// file and flags, in that order of precedence from lowest to highest.
func parseArgs(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("minerproxy", flag.ContinueOnError)

	var (
		configPath  string
		listen      string
		upstream    string
		maxSessions int
		bufferSize  int
		dialTimeout time.Duration
		resolveTTL  time.Duration
		warnNonJSON bool
		logLevel    string
		logDir      string
		cacheKind   string
		redisAddr   string
		showVersion bool
		showHelp    bool
	)

	fs.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	fs.StringVarP(&listen, "listen", "l", "", "Address miners connect to (host:port)")
	fs.StringVarP(&upstream, "upstream", "u", "", "Pool address (host:port)")
	fs.IntVar(&maxSessions, "max-sessions", 0, "Maximum concurrent miners (0 = unlimited)")
	fs.IntVar(&bufferSize, "buffer-size", 0, "Receive buffer size in bytes")
	fs.DurationVar(&dialTimeout, "dial-timeout", 0, "Upstream connect timeout")
	fs.DurationVar(&resolveTTL, "resolve-ttl", 0, "How long upstream DNS answers are cached")
	fs.BoolVar(&warnNonJSON, "warn-non-json", false, "Log relayed lines that are not JSON objects")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logDir, "log-dir", "", "Directory for daily rotated log files")
	fs.StringVar(&cacheKind, "cache", "", "DNS cache backend (none, memory, redis)")
	fs.StringVar(&redisAddr, "redis-addr", "", "Redis address for the redis cache backend")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	if showHelp {
		printUsage(fs)
		return config.Config{}, errHelp
	}
	if showVersion {
		fmt.Printf("minerproxy %s\n", version)
		return config.Config{}, errHelp
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return config.Config{}, err
		}
	}

	if fs.Changed("listen") {
		cfg.Listen = listen
	}
	if fs.Changed("upstream") {
		cfg.Upstream = upstream
	}
	if fs.Changed("max-sessions") {
		cfg.MaxSessions = maxSessions
	}
	if fs.Changed("buffer-size") {
		cfg.BufferSize = bufferSize
	}
	if fs.Changed("dial-timeout") {
		cfg.DialTimeout = dialTimeout
	}
	if fs.Changed("resolve-ttl") {
		cfg.ResolveTTL = resolveTTL
	}
	if fs.Changed("warn-non-json") {
		cfg.WarnNonJSON = warnNonJSON
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if fs.Changed("log-dir") {
		cfg.Log.Dir = logDir
	}
	if fs.Changed("cache") {
		cfg.Cache.Backend = cacheKind
	}
	if fs.Changed("redis-addr") {
		cfg.Cache.RedisAddr = redisAddr
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	if cfg.Log.Dir != "" {
		return logger.NewZerologFileLogger(cfg.Log.Service, cfg.Log.Dir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), cfg.Log.Service, level), nil
}

// newResolveCache returns the cache for upstream DNS answers and a func
// releasing its resources.
func newResolveCache(cfg config.Config) (cacher.Cacher[[]string], func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return nil, func() {}, nil
	case config.CacheMemory:
		return cacher.NewMemoryCacher[[]string](cfg.ResolveTTL, time.Minute), func() {}, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		return cacher.NewRedisCacher[[]string](client, cfg.Cache.Prefix), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w %q", config.ErrCacheBackend, cfg.Cache.Backend)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `minerproxy v%s

Relays newline-delimited JSON between miners and a mining pool.

Usage:
  minerproxy -u <pool:port> [options]
  minerproxy -c <config.toml> [options]

Options:
`, version)
	fs.PrintDefaults()
}
