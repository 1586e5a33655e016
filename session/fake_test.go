package session

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
)

type readResult struct {
	data []byte
	err  error
}

// fakeTransport serves reads from a channel and records writes. Closing the
// reads channel makes Read return (0, io.EOF).
type fakeTransport struct {
	reads chan readResult

	// ignoreClose keeps a pending Read blocked after Close, so a completion
	// can be delivered after disposal.
	ignoreClose bool

	// writeLimit caps bytes accepted per Write; 0 means unlimited.
	writeLimit int
	// failWriteAt makes the Nth Write (1-based) return failWith; 0 disables.
	failWriteAt int
	failWith    error
	// afterWrite runs after each accepted Write with its 1-based call number.
	afterWrite func(call int)

	mu     sync.Mutex
	writes []int
	sent   []byte

	activeReads atomic.Int32
	maxReads    atomic.Int32

	closeOnce  sync.Once
	closeCalls atomic.Int32
	closedCh   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:    make(chan readResult, 16),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	active := f.activeReads.Add(1)
	defer f.activeReads.Add(-1)
	for {
		peak := f.maxReads.Load()
		if active <= peak || f.maxReads.CompareAndSwap(peak, active) {
			break
		}
	}

	closed := f.closedCh
	if f.ignoreClose {
		closed = nil
	}

	select {
	case r, ok := <-f.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, r.data), r.err
	case <-closed:
		return 0, net.ErrClosed
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	call := len(f.writes) + 1
	if f.failWriteAt > 0 && call == f.failWriteAt {
		f.writes = append(f.writes, 0)
		f.mu.Unlock()
		return 0, f.failWith
	}

	n := len(p)
	if f.writeLimit > 0 && n > f.writeLimit {
		n = f.writeLimit
	}

	f.writes = append(f.writes, n)
	f.sent = append(f.sent, p[:n]...)
	f.mu.Unlock()

	if f.afterWrite != nil {
		f.afterWrite(call)
	}
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeTransport) writeCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.writes...)
}

func (f *fakeTransport) sentBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.sent...)
}

// countingPool records every release so double releases show up.
type countingPool struct {
	size     int
	acquired atomic.Int32
	released atomic.Int32
}

func (p *countingPool) Acquire() []byte {
	p.acquired.Add(1)
	return make([]byte, p.size)
}

func (p *countingPool) Release(buf []byte) {
	p.released.Add(1)
}

type message struct {
	data   string
	length int
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []message
	closed   atomic.Int32
	onMsg    func(data []byte)
}

func (h *recordingHandler) OnMessage(data []byte, length int) {
	h.mu.Lock()
	h.messages = append(h.messages, message{data: string(data), length: length})
	h.mu.Unlock()

	if h.onMsg != nil {
		h.onMsg(data)
	}
}

func (h *recordingHandler) OnClosed() {
	h.closed.Add(1)
}

func (h *recordingHandler) received() []message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]message(nil), h.messages...)
}
