package waithandle

// Handle is an auto-reset event: Set signals it, and the signal is consumed
// by exactly one waiter. Setting an already signalled handle has no effect.
type Handle struct {
	c chan struct{}
}

// NewHandle creates an unsignalled Handle.
func NewHandle() *Handle {
	return &Handle{c: make(chan struct{}, 1)}
}

// Set signals the handle.
func (h *Handle) Set() {
	select {
	case h.c <- struct{}{}:
	default:
	}
}

// Reset clears a pending signal.
func (h *Handle) Reset() {
	select {
	case <-h.c:
	default:
	}
}

// C receives once per signal.
func (h *Handle) C() <-chan struct{} {
	return h.c
}
