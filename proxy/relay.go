package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/minerproxy/logger"
	"github.com/cyberinferno/minerproxy/session"
	"github.com/cyberinferno/minerproxy/utils"
)

// Relay pairs a downstream (miner) session with an upstream (pool) session
// and forwards every line each side receives to the other. When either side
// closes, the other is disposed too.
type Relay struct {
	id         uint32
	downstream *session.Session
	upstream   *session.Session
	logger     logger.Logger
	started    time.Time

	toUpstream   leg
	toDownstream leg

	finishOnce sync.Once
	onFinish   func(*Relay)
}

// leg is one forwarding direction; it is installed as the Handler of the
// session it reads from.
type leg struct {
	relay       *Relay
	to          *session.Session
	direction   string
	warnNonJSON bool
	lines       atomic.Uint64
	bytes       atomic.Uint64
}

// NewRelay wires two open sessions together. onFinish, if set, runs once
// after both sides are closed.
//
// Parameters:
//   - id: Relay identifier used in logs
//   - downstream: Session of the accepted miner connection
//   - upstream: Session of the dialed pool connection
//   - log: Logger for relay entries
//   - warnNonJSON: Log lines that are not JSON objects
//   - onFinish: Called once when the relay ends
//
// Returns:
//   - A *Relay; call Start to begin forwarding
func NewRelay(id uint32, downstream, upstream *session.Session, log logger.Logger, warnNonJSON bool, onFinish func(*Relay)) *Relay {
	if log == nil {
		log = logger.NewNopLogger()
	}

	r := &Relay{
		id:         id,
		downstream: downstream,
		upstream:   upstream,
		logger:     log.With(logger.Field{Key: "relay_id", Value: id}),
		onFinish:   onFinish,
	}
	r.toUpstream = leg{relay: r, to: upstream, direction: "upstream", warnNonJSON: warnNonJSON}
	r.toDownstream = leg{relay: r, to: downstream, direction: "downstream", warnNonJSON: warnNonJSON}

	return r
}

// ID returns the relay identifier.
func (r *Relay) ID() uint32 {
	return r.id
}

// Start installs the forwarding handlers and starts both receive loops.
func (r *Relay) Start() {
	r.started = time.Now()
	r.downstream.SetHandler(&r.toUpstream)
	r.upstream.SetHandler(&r.toDownstream)
	r.downstream.StartReceiving()
	r.upstream.StartReceiving()

	r.logger.Info("relay started",
		logger.Field{Key: "downstream", Value: r.downstream.RemoteAddr()},
		logger.Field{Key: "upstream", Value: r.upstream.RemoteAddr()},
	)
}

// Close disposes both sessions.
func (r *Relay) Close() {
	r.downstream.Dispose()
	r.upstream.Dispose()
}

// Counters returns lines and bytes forwarded in each direction.
func (r *Relay) Counters() (linesUp, bytesUp, linesDown, bytesDown uint64) {
	return r.toUpstream.lines.Load(), r.toUpstream.bytes.Load(),
		r.toDownstream.lines.Load(), r.toDownstream.bytes.Load()
}

func (r *Relay) finish() {
	r.finishOnce.Do(func() {
		linesUp, bytesUp, linesDown, bytesDown := r.Counters()
		r.logger.Info("relay finished",
			logger.Field{Key: "lines_up", Value: linesUp},
			logger.Field{Key: "bytes_up", Value: bytesUp},
			logger.Field{Key: "lines_down", Value: linesDown},
			logger.Field{Key: "bytes_down", Value: bytesDown},
			logger.Field{Key: "duration", Value: time.Since(r.started).String()},
		)

		if r.onFinish != nil {
			r.onFinish(r)
		}
	})
}

// OnMessage implements session.Handler.
func (l *leg) OnMessage(data []byte, length int) {
	if l.warnNonJSON && !utils.IsJsonObject(data[:length]) {
		l.relay.logger.Warn("relaying non-json line",
			logger.Field{Key: "direction", Value: l.direction},
			logger.Field{Key: "length", Value: length},
		)
	}

	l.lines.Add(1)
	l.bytes.Add(uint64(length))
	l.to.Send(data[:length])
}

// OnClosed implements session.Handler.
func (l *leg) OnClosed() {
	l.to.Dispose()
	l.relay.finish()
}
