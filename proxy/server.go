// Package proxy accepts miner connections, dials the configured pool for
// each one, and relays newline-delimited messages between the two sessions.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/minerproxy/bufferpool"
	"github.com/cyberinferno/minerproxy/idgenerator"
	"github.com/cyberinferno/minerproxy/logger"
	"github.com/cyberinferno/minerproxy/safemap"
	"github.com/cyberinferno/minerproxy/session"
)

const acceptRetryDelay = 50 * time.Millisecond

// ErrAlreadyStarted is returned by Run on a server that has been run before.
var ErrAlreadyStarted = errors.New("server already started")

// Config holds the settings of one proxy listener.
type Config struct {
	// ListenAddr is the "host:port" miners connect to.
	ListenAddr string
	// UpstreamAddr is the "host:port" of the pool.
	UpstreamAddr string
	// DialTimeout bounds resolving and connecting to the pool; 0 means none.
	DialTimeout time.Duration
	// MaxSessions caps concurrent relays; 0 or less means unlimited.
	MaxSessions int
	// WarnNonJSON logs relayed lines that are not JSON objects.
	WarnNonJSON bool
}

// Server is the proxy listener. Each accepted connection becomes a Relay to
// a freshly dialed upstream connection.
type Server struct {
	cfg    Config
	dialer *Dialer
	pool   bufferpool.Pool
	logger logger.Logger

	relays *safemap.SafeMap[uint32, *Relay]
	ids    *idgenerator.IdGenerator
	slots  *semaphore.Weighted

	started  atomic.Bool
	handlers sync.WaitGroup

	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// statser is implemented by pools that count their buffers.
type statser interface {
	Stats() bufferpool.Stats
}

// NewServer creates a server; call Run to start it.
//
// Parameters:
//   - cfg: Listener settings
//   - dialer: Opens upstream connections; nil uses an uncached Dialer
//   - pool: Receive buffers for both sides of every relay
//   - log: Logger; nil discards entries
//
// Returns:
//   - A *Server that is not yet listening
func NewServer(cfg Config, dialer *Dialer, pool bufferpool.Pool, log logger.Logger) *Server {
	if dialer == nil {
		dialer = NewDialer(nil, cfg.DialTimeout)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		cfg:    cfg,
		dialer: dialer,
		pool:   pool,
		logger: log,
		relays: safemap.NewSafeMap[uint32, *Relay](),
		ids:    idgenerator.NewIdGenerator(0),
		ready:  make(chan struct{}),
	}
	if cfg.MaxSessions > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}

	return s
}

// Run listens on ListenAddr and serves until ctx is cancelled or accepting
// fails permanently. On return every live relay has been closed. A Server
// runs at most once.
//
// Returns:
//   - nil after cancellation, otherwise the listen or accept error
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		s.logger.Error("proxy failed to start", logger.Field{Key: "error", Value: err})
		s.markReady()
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.markReady()

	s.logger.Info("proxy started",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "upstream", Value: s.cfg.UpstreamAddr},
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		_ = ln.Close()
		return nil
	})
	group.Go(func() error {
		return s.acceptLoop(groupCtx, ln)
	})

	err = group.Wait()
	s.handlers.Wait()

	for _, relay := range s.relays.Drain() {
		relay.Close()
	}

	var fields []logger.Field
	if st, ok := s.pool.(statser); ok {
		stats := st.Stats()
		fields = append(fields,
			logger.Field{Key: "buffers_acquired", Value: stats.Acquired},
			logger.Field{Key: "buffers_outstanding", Value: stats.Outstanding},
		)
	}
	s.logger.Info("proxy stopped", fields...)
	return err
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once Run has either bound the listener or failed to.
// Addr is nil in the latter case.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// ActiveRelays returns the number of live relays.
func (s *Server) ActiveRelays() int {
	return s.relays.Len()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			s.logger.Error("proxy accept error", logger.Field{Key: "error", Value: err})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle dials the upstream for one accepted connection and starts a relay.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if s.slots != nil && !s.slots.TryAcquire(1) {
		s.logger.Warn("session limit reached, rejecting connection",
			logger.Field{Key: "remote_addr", Value: remote},
			logger.Field{Key: "max_sessions", Value: s.cfg.MaxSessions},
		)
		_ = conn.Close()
		return
	}

	dialCtx := ctx
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	upConn, err := s.dialer.Dial(dialCtx, s.cfg.UpstreamAddr)
	if err != nil {
		s.logger.Error("upstream dial failed",
			logger.Field{Key: "remote_addr", Value: remote},
			logger.Field{Key: "error", Value: err},
		)
		_ = conn.Close()
		s.releaseSlot()
		return
	}

	id := s.ids.Next()
	down := session.New(id, conn, s.pool, s.logger.With(logger.Field{Key: "side", Value: "downstream"}))
	up := session.New(id, upConn, s.pool, s.logger.With(logger.Field{Key: "side", Value: "upstream"}))

	relay := NewRelay(id, down, up, s.logger, s.cfg.WarnNonJSON, func(r *Relay) {
		s.relays.Delete(r.ID())
		s.releaseSlot()
	})
	s.relays.Store(id, relay)
	relay.Start()
}

func (s *Server) releaseSlot() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}
