package session

import (
	"bytes"

	"github.com/cyberinferno/minerproxy/logger"
)

const lineFeed = '\n'

// StartReceiving starts the receive loop on its own goroutine and returns
// immediately. Only the first call on an open session has an effect.
func (s *Session) StartReceiving() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if s.closed.Load() || s.receiving || s.buffer == nil {
		return
	}

	s.receiving = true
	go s.receiveLoop(s.buffer)
}

// receiveLoop keeps exactly one read outstanding until the session closes.
func (s *Session) receiveLoop(buf []byte) {
	defer func() {
		s.bufMu.Lock()
		s.releaseBufferLocked()
		s.bufMu.Unlock()
	}()

	for {
		n, err := s.conn.Read(buf)
		if s.closed.Load() {
			return
		}

		if n == 0 || err != nil {
			s.logger.Debug("receive ended",
				logger.Field{Key: "read", Value: n},
				logger.Field{Key: "error", Value: err},
			)
			s.Dispose()
			return
		}

		s.deliver(buf[:n])
	}
}

// deliver hands every non-empty line of one read to the handler. A line cut
// by the end of the read is delivered as is; nothing carries over to the
// next read.
func (s *Session) deliver(data []byte) {
	h := s.currentHandler()
	if h == nil {
		return
	}

	for _, line := range splitLines(data) {
		if s.closed.Load() {
			return
		}

		h.OnMessage(line, len(line))
	}
}

// splitLines cuts data on line feeds, drops empty segments and returns each
// remaining segment as a fresh slice ending in a single line feed.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for len(data) > 0 {
		var segment []byte
		if i := bytes.IndexByte(data, lineFeed); i >= 0 {
			segment, data = data[:i], data[i+1:]
		} else {
			segment, data = data, nil
		}

		if len(segment) == 0 {
			continue
		}

		line := make([]byte, len(segment)+1)
		copy(line, segment)
		line[len(segment)] = lineFeed
		lines = append(lines, line)
	}

	return lines
}
