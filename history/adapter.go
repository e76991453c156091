package history

import (
	"sync"

	"github.com/belyas/pubsub-mfe-sub000/bus"
)

// Config configures a HistoryAdapter (§4.3, §6).
type Config struct {
	// Namespace partitions this adapter's records from any other
	// namespace sharing the same Store.
	Namespace string
	GC        GCConfig
	// OnError receives classified resource errors: store-open failures and
	// Put failures encountered while persisting a published envelope (§7
	// "resource errors reported to onError"). Propagated into GC.OnError
	// too unless GC.OnError was set explicitly.
	OnError func(error)
}

// Stats reports cumulative HistoryAdapter counters.
type Stats struct {
	DuplicatesSkipped uint64
}

// HistoryAdapter bridges a bus.Bus's OnPublish hook into a Store, and
// serves namespaced, time-bounded queries back out, with a
// GarbageCollector trimming the namespace to its TTL/capacity bounds.
// Grounded on the eventbus module's eventHistory + startRetentionTimer
// pairing, split here into an independently testable Store/GC/Adapter
// trio so persistence, eviction policy, and bus wiring vary independently
// (§4.3).
type HistoryAdapter struct {
	cfg   Config
	store Store
	gc    *GarbageCollector

	mu       sync.Mutex
	attached bool
	unsubPub func()
	stats    Stats
}

// New constructs a HistoryAdapter over store, which must be opened by the
// caller (or left to the adapter's Attach to open it on first use).
func New(cfg Config, store Store) *HistoryAdapter {
	if cfg.GC.OnError == nil {
		cfg.GC.OnError = cfg.OnError
	}
	gc := NewGarbageCollector(store, cfg.GC)
	gc.TrackNamespace(cfg.Namespace)
	return &HistoryAdapter{cfg: cfg, store: store, gc: gc}
}

func (h *HistoryAdapter) reportError(err error) {
	if h.cfg.OnError != nil && err != nil {
		h.cfg.OnError(err)
	}
}

// Attach opens the store if needed, starts the GC timer, and subscribes to
// b's publish hook so every locally published envelope is persisted.
func (h *HistoryAdapter) Attach(b *bus.Bus) error {
	h.mu.Lock()
	if h.attached {
		h.mu.Unlock()
		return ErrAlreadyAttached
	}
	h.attached = true
	h.mu.Unlock()

	if h.store.State() != StateOpen {
		if err := h.store.Open(); err != nil {
			h.mu.Lock()
			h.attached = false
			h.mu.Unlock()
			h.reportError(err)
			return err
		}
	}

	hooks := b.GetHooks()
	unsub := hooks.OnPublish(h.onPublish)
	h.mu.Lock()
	h.unsubPub = unsub
	h.mu.Unlock()

	h.gc.Start()
	return nil
}

// Detach stops the GC timer and publish subscription but leaves the store
// open and its records intact; GetHistory remains servable afterward
// (§4.3 "history adapter reopens the store on demand post-detach" covers
// the case where the store was explicitly closed too).
func (h *HistoryAdapter) Detach() error {
	h.mu.Lock()
	if !h.attached {
		h.mu.Unlock()
		return ErrNotAttached
	}
	h.attached = false
	unsub := h.unsubPub
	h.unsubPub = nil
	h.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	h.gc.Stop()
	return nil
}

func (h *HistoryAdapter) onPublish(env bus.Envelope) {
	rec := Record{
		Namespace: h.cfg.Namespace,
		MessageID: env.ID,
		Topic:     env.Topic,
		Payload:   env.Payload,
		Timestamp: env.TS,
		Meta:      env.Meta,
	}
	inserted, err := h.store.Put(rec)
	if err != nil {
		h.reportError(err)
		return
	}
	if !inserted {
		h.mu.Lock()
		h.stats.DuplicatesSkipped++
		h.mu.Unlock()
		return
	}
	h.gc.CheckOnWrite(h.cfg.Namespace)
}

// Stats returns a snapshot of this adapter's counters.
func (h *HistoryAdapter) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// GetHistory returns persisted records for this adapter's namespace
// matching topicPrefix (empty matches all) and fromTime/limit bounds,
// reopening the store on demand if it was closed after Detach (§4.3).
func (h *HistoryAdapter) GetHistory(topicPrefix string, fromTime int64, hasFromTime bool, limit int) ([]Record, error) {
	if h.store.State() != StateOpen {
		if err := h.store.Open(); err != nil {
			return nil, err
		}
	}
	return h.store.Query(Query{
		Namespace:   h.cfg.Namespace,
		TopicPrefix: topicPrefix,
		FromTime:    fromTime,
		HasFromTime: hasFromTime,
		Limit:       limit,
	})
}

// ForceGC triggers an immediate full GC pass, bypassing the interval timer
// (SPEC_FULL.md supplemented feature #3).
func (h *HistoryAdapter) ForceGC() (GCResult, error) {
	return h.gc.RunFullGC()
}

// Clear removes every record in this adapter's namespace.
func (h *HistoryAdapter) Clear() error {
	return h.store.ClearNamespace(h.cfg.Namespace)
}
