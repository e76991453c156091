package history

import (
	"sync"
	"sync/atomic"
	"time"
)

// GCConfig configures a GarbageCollector's triggers and bounds (§4.3, §6).
type GCConfig struct {
	// MaxMessages bounds how many records a namespace may retain;
	// exceeding it triggers overflow (oldest-first) removal.
	MaxMessages int
	// TTL bounds record age; records older than TTL are expired-removed.
	TTL time.Duration
	// GCInterval drives the periodic background sweep. Zero disables the
	// timer; GC then only runs via ForceGC or the on-write trigger.
	GCInterval time.Duration
	// CheckOnWriteThreshold is the fraction of MaxMessages (0..1) at which
	// a Put triggers an immediate GC check instead of waiting for the next
	// timer tick (§4.3 "on-write trigger at >=0.9x maxMessages").
	CheckOnWriteThreshold float64
	// OnError receives store errors encountered during a GC pass (expired
	// or overflow sweeps), classifying failures that would otherwise be
	// silently skipped (§7 "resource errors reported to onError").
	OnError func(error)
}

func defaultGCConfig(cfg GCConfig) GCConfig {
	if cfg.CheckOnWriteThreshold <= 0 {
		cfg.CheckOnWriteThreshold = 0.9
	}
	return cfg
}

// GCResult reports what a single GC pass removed.
type GCResult struct {
	ExpiredRemoved  int
	OverflowRemoved int
	TotalRemoved    int
	DurationMs      int64
}

// GarbageCollector periodically (and on demand) trims a Store's namespaces
// down to their TTL and MaxMessages bounds, grounded on the eventbus
// module's startRetentionTimer/cleanupOldEvents pair in memory.go,
// generalized from a single global sweep to a per-namespace hybrid
// (TTL + capacity) policy per §4.3.
type GarbageCollector struct {
	store Store
	cfg   GCConfig

	running int32 // atomic guard, short-circuits concurrent invocations

	mu         sync.Mutex
	namespaces map[string]struct{}
	timer      *time.Timer
	stopped    bool

	runs         uint64
	totalRemoved uint64
}

// NewGarbageCollector constructs a GarbageCollector bound to store.
func NewGarbageCollector(store Store, cfg GCConfig) *GarbageCollector {
	return &GarbageCollector{
		store:      store,
		cfg:        defaultGCConfig(cfg),
		namespaces: make(map[string]struct{}),
	}
}

// TrackNamespace registers namespace for inclusion in periodic sweeps.
func (g *GarbageCollector) TrackNamespace(namespace string) {
	g.mu.Lock()
	g.namespaces[namespace] = struct{}{}
	g.mu.Unlock()
}

// Start begins the periodic sweep timer, if GCInterval > 0.
func (g *GarbageCollector) Start() {
	if g.cfg.GCInterval <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.timer = time.AfterFunc(g.cfg.GCInterval, g.tick)
}

func (g *GarbageCollector) tick() {
	_, _ = g.RunFullGC()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.cfg.GCInterval <= 0 {
		return
	}
	g.timer = time.AfterFunc(g.cfg.GCInterval, g.tick)
}

// Stop halts the periodic sweep timer. Safe to call more than once.
func (g *GarbageCollector) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// CheckOnWrite is called after each Store.Put that inserts a record; it runs a GC pass
// immediately once a namespace's size crosses CheckOnWriteThreshold of
// MaxMessages, instead of waiting for the next periodic tick (§4.3).
func (g *GarbageCollector) CheckOnWrite(namespace string) {
	if g.cfg.MaxMessages <= 0 {
		return
	}
	count, err := g.store.Count(namespace)
	if err != nil {
		return
	}
	if float64(count) >= float64(g.cfg.MaxMessages)*g.cfg.CheckOnWriteThreshold {
		_, _ = g.RunFullGC()
	}
}

// RunFullGC runs one expired-removal pass followed by one overflow-removal
// pass across every tracked namespace. Concurrent calls short-circuit:
// only one pass runs at a time, and a call arriving mid-pass returns
// immediately with a zero result rather than blocking (§4.3 "concurrent
// invocation short-circuit").
func (g *GarbageCollector) RunFullGC() (GCResult, error) {
	if !atomic.CompareAndSwapInt32(&g.running, 0, 1) {
		return GCResult{}, nil
	}
	defer atomic.StoreInt32(&g.running, 0)

	start := time.Now()
	var result GCResult

	g.mu.Lock()
	namespaces := make([]string, 0, len(g.namespaces))
	for ns := range g.namespaces {
		namespaces = append(namespaces, ns)
	}
	g.mu.Unlock()

	for _, ns := range namespaces {
		expiredRemoved, err := g.sweepExpired(ns)
		if err != nil {
			g.reportError(err)
			continue
		}
		result.ExpiredRemoved += expiredRemoved

		overflowRemoved, err := g.sweepOverflow(ns)
		if err != nil {
			g.reportError(err)
			continue
		}
		result.OverflowRemoved += overflowRemoved
	}

	result.TotalRemoved = result.ExpiredRemoved + result.OverflowRemoved
	result.DurationMs = time.Since(start).Milliseconds()

	atomic.AddUint64(&g.runs, 1)
	atomic.AddUint64(&g.totalRemoved, uint64(result.TotalRemoved))

	return result, nil
}

func (g *GarbageCollector) sweepExpired(namespace string) (int, error) {
	if g.cfg.TTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-g.cfg.TTL).UnixMilli()
	expired, err := g.store.GetExpired(namespace, cutoff)
	if err != nil || len(expired) == 0 {
		return 0, err
	}
	ids := make([]string, len(expired))
	for i, rec := range expired {
		ids[i] = rec.MessageID
	}
	if err := g.store.DeleteMany(namespace, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (g *GarbageCollector) sweepOverflow(namespace string) (int, error) {
	if g.cfg.MaxMessages <= 0 {
		return 0, nil
	}
	count, err := g.store.Count(namespace)
	if err != nil {
		return 0, err
	}
	overflow := count - g.cfg.MaxMessages
	if overflow <= 0 {
		return 0, nil
	}
	oldest, err := g.store.GetOldest(namespace, overflow)
	if err != nil || len(oldest) == 0 {
		return 0, err
	}
	ids := make([]string, len(oldest))
	for i, rec := range oldest {
		ids[i] = rec.MessageID
	}
	if err := g.store.DeleteMany(namespace, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (g *GarbageCollector) reportError(err error) {
	if g.cfg.OnError != nil && err != nil {
		g.cfg.OnError(err)
	}
}

// Stats reports cumulative GC run counters.
func (g *GarbageCollector) Stats() (runs uint64, totalRemoved uint64) {
	return atomic.LoadUint64(&g.runs), atomic.LoadUint64(&g.totalRemoved)
}
