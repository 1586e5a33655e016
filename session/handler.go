package session

// Handler receives a session's events. OnMessage runs on the receive loop
// goroutine; OnClosed runs on whichever goroutine disposes the session.
type Handler interface {
	// OnMessage is called once per non-empty line, in arrival order. data
	// ends with exactly one line feed, length is len(data), and data is not
	// reused by the session.
	OnMessage(data []byte, length int)

	// OnClosed is called exactly once, when the session is first disposed.
	OnClosed()
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Message func(data []byte, length int)
	Closed  func()
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(data []byte, length int) {
	if h.Message != nil {
		h.Message(data, length)
	}
}

// OnClosed implements Handler.
func (h HandlerFuncs) OnClosed() {
	if h.Closed != nil {
		h.Closed()
	}
}
