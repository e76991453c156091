package crosstab

import "sync"

// loopbackHub fans incoming bytes out to every Loopback endpoint attached
// to it except the sender, simulating a BroadcastChannel shared by same-
// origin tabs within a single process (grounded on MemoryEventBus's
// in-memory subscriber map).
type loopbackHub struct {
	mu        sync.Mutex
	listeners map[*Loopback]struct{}
}

func newLoopbackHub() *loopbackHub {
	return &loopbackHub{listeners: make(map[*Loopback]struct{})}
}

func (h *loopbackHub) join(l *Loopback) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
}

func (h *loopbackHub) leave(l *Loopback) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

func (h *loopbackHub) broadcast(from *Loopback, data []byte) {
	h.mu.Lock()
	recipients := make([]*Loopback, 0, len(h.listeners))
	for l := range h.listeners {
		if l != from {
			recipients = append(recipients, l)
		}
	}
	h.mu.Unlock()

	for _, l := range recipients {
		l.deliver(data)
	}
}

// DefaultLoopbackHub is the process-wide hub used when Loopback instances
// are constructed without an explicit hub, so independently-created
// Loopback values in the same process still reach each other (the
// in-process analogue of two tabs sharing one BroadcastChannel name).
var DefaultLoopbackHub = newLoopbackHub()

// Loopback is the concrete, dependency-free Transport used by tests and by
// single-process embeddings that want cross-tab semantics without a real
// browser (SPEC_FULL.md supplemented feature #4; real BroadcastChannel /
// SharedWorker / MessageChannel transports are DOM-bound and out of
// scope).
type Loopback struct {
	hub    *loopbackHub
	mu     sync.Mutex
	onRecv func(data []byte)
	closed bool
}

// NewLoopback creates a Loopback endpoint joined to the default hub.
func NewLoopback() *Loopback {
	return NewLoopbackOnHub(DefaultLoopbackHub)
}

// NewLoopbackOnHub creates a Loopback endpoint joined to an explicit hub,
// letting tests isolate independent "browser instances" from each other.
func NewLoopbackOnHub(hub *loopbackHub) *Loopback {
	l := &Loopback{hub: hub}
	hub.join(l)
	return l
}

// NewLoopbackHub constructs an isolated hub for grouping a set of
// Loopback transports that should only see each other.
func NewLoopbackHub() *loopbackHub {
	return newLoopbackHub()
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) IsAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *Loopback) Send(data []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrNoTransport
	}
	l.hub.broadcast(l, data)
	return nil
}

func (l *Loopback) OnReceive(cb func(data []byte)) {
	l.mu.Lock()
	l.onRecv = cb
	l.mu.Unlock()
}

func (l *Loopback) deliver(data []byte) {
	l.mu.Lock()
	cb := l.onRecv
	closed := l.closed
	l.mu.Unlock()
	if !closed && cb != nil {
		cb(data)
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.hub.leave(l)
	return nil
}

func init() {
	RegisterTransport("loopback", func(opts map[string]interface{}) (Transport, error) {
		return NewLoopback(), nil
	})
}
