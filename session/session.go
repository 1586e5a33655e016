// Package session wraps one connected byte-stream transport. A Session runs
// a single receive loop that cuts every read into line-feed terminated
// messages, sends synchronously on the caller's goroutine, and tears itself
// down exactly once no matter how many paths ask for it.
package session

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/minerproxy/bufferpool"
	"github.com/cyberinferno/minerproxy/logger"
)

// Transport is the connection a Session owns. net.Conn satisfies it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// halfCloser is implemented by transports that can shut down each direction
// separately, such as *net.TCPConn.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Session is one open connection. It is created open and becomes closed on
// a zero-byte read, any read or write error, or an explicit Dispose.
//
// Send is not synchronized; callers must not send on one Session from more
// than one goroutine at a time.
type Session struct {
	id     uint32
	conn   Transport
	pool   bufferpool.Pool
	logger logger.Logger

	closed atomic.Bool

	// bufMu guards buffer and receiving. While the receive loop runs it
	// owns the buffer and returns it to the pool on exit.
	bufMu     sync.Mutex
	buffer    []byte
	receiving bool

	handlerMu sync.Mutex
	handler   Handler
}

// New wraps an already connected transport. The session takes ownership of
// conn and borrows one receive buffer from pool until it is disposed.
//
// Parameters:
//   - id: Identifier used in log entries
//   - conn: The connected transport
//   - pool: Source of the receive buffer
//   - log: Logger for lifecycle entries; nil discards them
//
// Returns:
//   - An open *Session; call SetHandler then StartReceiving
func New(id uint32, conn Transport, pool bufferpool.Pool, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Session{
		id:     id,
		conn:   conn,
		pool:   pool,
		buffer: pool.Acquire(),
	}
	s.logger = log.With(
		logger.Field{Key: "session_id", Value: id},
		logger.Field{Key: "remote_addr", Value: s.RemoteAddr()},
	)
	s.logger.Debug("session opened")

	return s
}

// ID returns the identifier the session was created with.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address when the transport exposes one.
func (s *Session) RemoteAddr() string {
	if c, ok := s.conn.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}

	return ""
}

// Closed reports whether the session has been disposed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// SetHandler installs the handler receiving messages and the close
// notification, replacing any previous one. It is ignored once the session
// is closed.
func (s *Session) SetHandler(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	if s.closed.Load() {
		return
	}

	s.handler = h
}

func (s *Session) currentHandler() Handler {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	return s.handler
}

// Send writes all of data to the transport, blocking until it is written.
// A write that fails or makes no progress disposes the session and Send
// returns early; the failure is only observable through OnClosed. Send on a
// closed session does nothing, and a Send interrupted by Dispose issues no
// further writes.
//
// Parameters:
//   - data: The bytes to transmit
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}

	for offset := 0; offset < len(data); {
		if s.closed.Load() {
			return
		}

		n, err := s.conn.Write(data[offset:])
		if n <= 0 || err != nil {
			s.logger.Debug("send failed",
				logger.Field{Key: "sent", Value: offset},
				logger.Field{Key: "length", Value: len(data)},
				logger.Field{Key: "error", Value: err},
			)
			s.Dispose()
			return
		}

		offset += n
	}
}

// Dispose closes the session. The first call shuts down both directions,
// closes the transport, gives the receive buffer back to the pool, calls
// OnClosed and drops the handler. Later calls, including re-entrant ones
// from inside OnClosed, do nothing.
func (s *Session) Dispose() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if hc, ok := s.conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	_ = s.conn.Close()

	s.bufMu.Lock()
	if !s.receiving {
		s.releaseBufferLocked()
	}
	s.bufMu.Unlock()

	s.handlerMu.Lock()
	h := s.handler
	s.handler = nil
	s.handlerMu.Unlock()

	if h != nil {
		h.OnClosed()
	}

	s.logger.Debug("session closed")
}

// releaseBufferLocked returns the receive buffer at most once; caller must
// hold bufMu.
func (s *Session) releaseBufferLocked() {
	if s.buffer == nil {
		return
	}

	s.pool.Release(s.buffer)
	s.buffer = nil
}
