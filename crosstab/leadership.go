package crosstab

import "sync"

// VisibilityProvider reports whether the current tab/process is the one
// that should act as leader for singleton work (e.g. owning a shared
// history GC timer). The browser original keys this off
// document.visibilityState and a heartbeat election; outside a DOM there
// is nothing to observe, so the default provider always reports leader
// (§4.4 "Non-goals: leader election protocol" — the hook exists so a host
// embedding this in an actual multi-tab browser runtime can supply a real
// provider without changing adapter code).
type VisibilityProvider interface {
	IsLeader() bool
}

// LeadershipChangeNotifier is an optional capability a VisibilityProvider
// may implement to push leadership transitions to an attached adapter
// instead of requiring it to poll (§4.7 "leadership changes emit similar
// [system] events").
type LeadershipChangeNotifier interface {
	OnLeadershipChange(cb func(isLeader bool)) (unsubscribe func())
}

// alwaysLeaderProvider is the default VisibilityProvider outside a
// browser: every attached instance considers itself leader.
type alwaysLeaderProvider struct{}

func (alwaysLeaderProvider) IsLeader() bool { return true }

// AlwaysLeader is the default provider used when none is supplied.
var AlwaysLeader VisibilityProvider = alwaysLeaderProvider{}

// staticProvider lets tests pin a fixed leadership answer and also
// implements LeadershipChangeNotifier so adapter wiring of leadership
// change events can be exercised without a real visibility signal.
type staticProvider struct {
	mu        sync.RWMutex
	leader    bool
	listeners map[int]func(bool)
	nextID    int
}

// NewStaticLeadershipProvider returns a VisibilityProvider whose answer can
// be flipped with SetLeader, for exercising leader/follower branches in
// tests without a real visibility signal.
func NewStaticLeadershipProvider(leader bool) *staticProvider {
	return &staticProvider{leader: leader, listeners: make(map[int]func(bool))}
}

func (p *staticProvider) IsLeader() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leader
}

// SetLeader updates the pinned answer and, if it changed, notifies every
// registered OnLeadershipChange listener.
func (p *staticProvider) SetLeader(leader bool) {
	p.mu.Lock()
	changed := p.leader != leader
	p.leader = leader
	var listeners []func(bool)
	if changed {
		for _, cb := range p.listeners {
			listeners = append(listeners, cb)
		}
	}
	p.mu.Unlock()

	for _, cb := range listeners {
		cb(leader)
	}
}

func (p *staticProvider) OnLeadershipChange(cb func(isLeader bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = cb
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}
