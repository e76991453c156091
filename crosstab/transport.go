package crosstab

import (
	"fmt"
	"sort"
	"sync"
)

// Transport abstracts the underlying same-origin channel an adapter mirrors
// messages over (BroadcastChannel, SharedWorker port, MessageChannel, or a
// Loopback stand-in for tests and single-process embedding). Real browser
// transports live outside this module; Loopback is the only concrete
// implementation shipped here (§4.2, SPEC_FULL.md supplemented feature #4).
type Transport interface {
	// Name identifies the transport for diagnostics and selection.
	Name() string
	// IsAvailable reports whether this transport can currently be used.
	// A transport registered but unavailable (e.g. BroadcastChannel absent
	// from the runtime) is skipped by the selector in favor of the next
	// one in priority order.
	IsAvailable() bool
	// Send broadcasts data to every other attached tab.
	Send(data []byte) error
	// OnReceive registers the callback invoked for inbound data from other
	// tabs. Only one callback is active at a time; a later call replaces
	// the previous one.
	OnReceive(func(data []byte))
	// Close releases any resources held by the transport.
	Close() error
}

// TransportFactory constructs a Transport from options, mirroring the
// eventbus module's EngineFactory shape.
type TransportFactory func(opts map[string]interface{}) (Transport, error)

var (
	transportRegistryMu sync.Mutex
	transportRegistry   = make(map[string]TransportFactory)
)

// RegisterTransport registers a named transport constructor for use with
// NewTransportSelector. Mirrors eventbus's package-level RegisterEngine.
func RegisterTransport(name string, factory TransportFactory) {
	transportRegistryMu.Lock()
	defer transportRegistryMu.Unlock()
	transportRegistry[name] = factory
}

// RegisteredTransports returns the names of all registered transport
// constructors.
func RegisteredTransports() []string {
	transportRegistryMu.Lock()
	defer transportRegistryMu.Unlock()
	names := make([]string, 0, len(transportRegistry))
	for name := range transportRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func createTransport(name string, opts map[string]interface{}) (Transport, error) {
	transportRegistryMu.Lock()
	factory, ok := transportRegistry[name]
	transportRegistryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("crosstab: %w: %s", ErrNoTransport, name)
	}
	return factory(opts)
}

// TransportSelector holds an ordered set of candidate transports and picks
// the first available one, falling back down the list as transports become
// unavailable (§4.2 "falls back to the next available transport in
// priority order"), grounded on the eventbus module's EngineRouter/routing
// rule precedence model (SPEC_FULL.md supplemented feature #2).
type TransportSelector struct {
	mu         sync.Mutex
	priority   []Transport
	active     Transport
	onFallback func(from, to, reason string)
}

// NewTransportSelector builds a selector from already-constructed
// transports, in fallback priority order (first entry tried first).
func NewTransportSelector(transports ...Transport) *TransportSelector {
	return &TransportSelector{priority: transports}
}

// OnFallback registers a callback invoked whenever Select falls back from
// a preferred transport to a lower-priority one, either because the
// previously active transport stopped reporting available or because the
// most-preferred transport was never available to begin with (§4.2
// "emit onFallback(from, to, reason) when a preferred choice fails").
func (s *TransportSelector) OnFallback(cb func(from, to, reason string)) {
	s.mu.Lock()
	s.onFallback = cb
	s.mu.Unlock()
}

// NewTransportSelectorFromNames builds a selector by resolving registered
// transport names, in fallback priority order.
func NewTransportSelectorFromNames(names []string, opts map[string]interface{}) (*TransportSelector, error) {
	transports := make([]Transport, 0, len(names))
	for _, name := range names {
		t, err := createTransport(name, opts)
		if err != nil {
			return nil, err
		}
		transports = append(transports, t)
	}
	return NewTransportSelector(transports...), nil
}

// Select returns the highest-priority available transport, caching the
// choice until it stops reporting available.
func (s *TransportSelector) Select() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.IsAvailable() {
		return s.active, nil
	}

	preferred := s.active
	if preferred == nil && len(s.priority) > 0 {
		preferred = s.priority[0]
	}

	for _, t := range s.priority {
		if t.IsAvailable() {
			if preferred != nil && preferred != t && s.onFallback != nil {
				s.onFallback(preferred.Name(), t.Name(), "preferred transport unavailable")
			}
			s.active = t
			return t, nil
		}
	}
	s.active = nil
	return nil, ErrNoTransport
}

// Names reports the configured fallback order, for diagnostics.
func (s *TransportSelector) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.priority))
	for i, t := range s.priority {
		names[i] = t.Name()
	}
	return names
}

// Close closes every transport in the fallback chain.
func (s *TransportSelector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, t := range s.priority {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.active = nil
	return firstErr
}
