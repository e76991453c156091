package crosstab

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/belyas/pubsub-mfe-sub000/bus"
)

const (
	defaultMaxMessageSize = 256 * 1024
	// defaultDedupTTL is dedupeWindowMs's documented default of 60000ms
	// (§4.7).
	defaultDedupTTL = 60 * time.Second
)

// Config configures a CrossTabAdapter (§4.2, §6).
type Config struct {
	// ClientID identifies this tab/process in outbound envelopes and for
	// echo suppression. Generated if empty.
	ClientID string
	// Origin is compared against inbound envelopes' Origin field; a
	// mismatch is rejected at the origin-check ingress stage. Left empty,
	// origin checking is skipped (single-origin embedding).
	Origin string
	// MaxMessageSize bounds the serialized envelope size accepted inbound
	// and produced outbound, in bytes.
	MaxMessageSize int
	// DedupTTL bounds how long a message id is remembered for duplicate
	// suppression.
	DedupTTL time.Duration
	// DedupCacheSize bounds the dedup LRU's entry count.
	DedupCacheSize int
	// RateLimitPerSecond and RateLimitBurst bound inbound message
	// admission, independent of the local bus's own rate limiter.
	RateLimitPerSecond float64
	RateLimitBurst     int
	// BatchMaxSize configures outbound batching's size trigger; zero falls
	// back to MessageBatcher's default.
	BatchMaxSize int
	// BatchInterval configures outbound batching's time trigger. Nil means
	// unset and falls back to MessageBatcher's default; a non-nil pointer
	// to zero disables batching entirely, flushing every envelope
	// synchronously (§4.2 "batchIntervalMs=0 disables batching").
	BatchInterval *time.Duration
	// Leadership reports whether this instance is leader; its answer is
	// carried as isLeader in system event payloads. Defaults to AlwaysLeader.
	Leadership VisibilityProvider
	// OnDiagnostic receives adapter diagnostic events.
	OnDiagnostic DiagnosticHandler
	// OnError receives classified resource errors (transport selection and
	// send failures, batch-flush encoding failures) distinct from the
	// diagnostic stream, per §7 "resource errors reported to onError".
	OnError func(*AdapterError)
}

func defaultConfig(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = newClientID()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.Leadership == nil {
		cfg.Leadership = AlwaysLeader
	}
	return cfg
}

// CrossTabAdapter mirrors a bus.Bus's published messages across tabs over a
// Transport, and re-injects messages received from other tabs back into
// the local bus via DispatchExternal, applying echo suppression,
// deduplication, structural/origin/size validation, and rate limiting to
// everything it admits (§4.2).
type CrossTabAdapter struct {
	cfg       Config
	transport *TransportSelector
	hooks     bus.Hooks

	batcher *MessageBatcher
	dedup   *dedupCache
	limiter *rate.Limiter

	sequence uint64

	mu              sync.Mutex
	attached        bool
	unsubPub        func()
	unsubLeadership func()
	stats           Stats
}

// New constructs an adapter bound to transport but not yet attached to any
// bus.
func New(cfg Config, transport *TransportSelector) *CrossTabAdapter {
	cfg = defaultConfig(cfg)

	a := &CrossTabAdapter{
		cfg:       cfg,
		transport: transport,
		dedup:     newDedupCache(cfg.DedupCacheSize, cfg.DedupTTL),
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	interval, disabled := resolveBatchInterval(cfg.BatchInterval)
	a.batcher = NewMessageBatcher(cfg.BatchMaxSize, interval, disabled, a.flushBatch)
	return a
}

// resolveBatchInterval turns Config.BatchInterval's tri-state (unset, zero,
// positive) into the (interval, disabled) pair MessageBatcher expects.
func resolveBatchInterval(cfg *time.Duration) (time.Duration, bool) {
	if cfg == nil {
		return 0, false
	}
	if *cfg <= 0 {
		return 0, true
	}
	return *cfg, false
}

// Attach binds the adapter to b: local publishes are mirrored outbound,
// and inbound messages from other tabs are validated and re-dispatched
// into b (§4.2 "attach/detach").
func (a *CrossTabAdapter) Attach(b *bus.Bus) error {
	a.mu.Lock()
	if a.attached {
		a.mu.Unlock()
		return ErrAlreadyAttached
	}
	a.attached = true
	a.hooks = b.GetHooks()
	a.mu.Unlock()

	unsub := a.hooks.OnPublish(a.onLocalPublish)
	a.mu.Lock()
	a.unsubPub = unsub
	a.mu.Unlock()

	t, err := a.transport.Select()
	if err == nil {
		t.OnReceive(a.onTransportMessage)
	}

	if notifier, ok := a.cfg.Leadership.(LeadershipChangeNotifier); ok {
		unsub := notifier.OnLeadershipChange(a.onLeadershipChange)
		a.mu.Lock()
		a.unsubLeadership = unsub
		a.mu.Unlock()
	}

	a.emitSystemEvent("system.tab.initialized")
	a.emitDiagnostic(DiagnosticAttach, map[string]interface{}{"clientId": a.cfg.ClientID})
	return nil
}

// Detach stops mirroring, flushing any buffered outbound envelopes first.
func (a *CrossTabAdapter) Detach() error {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return ErrNotAttached
	}
	a.attached = false
	unsub := a.unsubPub
	a.unsubPub = nil
	unsubLeadership := a.unsubLeadership
	a.unsubLeadership = nil
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unsubLeadership != nil {
		unsubLeadership()
	}
	a.batcher.Close()
	a.emitDiagnostic(DiagnosticDetach, map[string]interface{}{"clientId": a.cfg.ClientID})
	return nil
}

// onLeadershipChange emits a system event on every leadership transition
// reported by a LeadershipChangeNotifier-capable provider (§4.7).
func (a *CrossTabAdapter) onLeadershipChange(isLeader bool) {
	a.emitSystemEvent("system.tab.leadership-changed")
}

// Stats returns a snapshot of ingress/egress counters.
func (a *CrossTabAdapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *CrossTabAdapter) onLocalPublish(env bus.Envelope) {
	a.mu.Lock()
	seq := a.sequence
	a.sequence++
	a.mu.Unlock()

	out := Envelope{
		MessageID:     env.ID,
		ClientID:      a.cfg.ClientID,
		Topic:         env.Topic,
		Payload:       env.Payload,
		Timestamp:     env.TS,
		Version:       EnvelopeVersion,
		Origin:        a.cfg.Origin,
		Sequence:      seq,
		SchemaVersion: env.SchemaVersion,
		Meta:          env.Meta,
	}
	a.batcher.Add(out)
}

func (a *CrossTabAdapter) flushBatch(envs []Envelope) {
	t, err := a.transport.Select()
	if err != nil {
		a.emitDiagnostic(DiagnosticTransportError, map[string]interface{}{"error": err.Error()})
		a.emitError(ErrorCodeTransportSend, err)
		return
	}
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			a.emitError(ErrorCodeBatchFlush, err)
			continue
		}
		if len(data) > a.cfg.MaxMessageSize {
			a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "oversized-outbound", "topic": env.Topic})
			continue
		}
		if err := t.Send(data); err != nil {
			a.emitDiagnostic(DiagnosticTransportError, map[string]interface{}{"error": err.Error()})
			a.emitError(ErrorCodeTransportSend, err)
			continue
		}
		a.incStat(func(s *Stats) { s.Sent++ })
		a.emitDiagnostic(DiagnosticSend, map[string]interface{}{"topic": env.Topic})
	}
}

func (a *CrossTabAdapter) emitError(code ErrorCode, err error) {
	if a.cfg.OnError == nil || err == nil {
		return
	}
	a.cfg.OnError(newAdapterError(code, err))
}

// onTransportMessage runs the 7-stage ingress validation chain described
// in §4.2: structural -> origin -> size -> echo suppression -> dedup ->
// rate limit -> dispatchExternal.
func (a *CrossTabAdapter) onTransportMessage(data []byte) {
	a.incStat(func(s *Stats) { s.Received++ })

	if len(data) > a.cfg.MaxMessageSize {
		a.incStat(func(s *Stats) { s.RejectedSize++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "oversized"})
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.incStat(func(s *Stats) { s.RejectedStructural++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "malformed-json"})
		return
	}
	if err := env.validateStructure(); err != nil {
		a.incStat(func(s *Stats) { s.RejectedStructural++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "invalid-structure", "error": err.Error()})
		return
	}

	if a.cfg.Origin != "" && env.Origin != a.cfg.Origin {
		a.incStat(func(s *Stats) { s.RejectedOrigin++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "origin-mismatch"})
		return
	}

	if len(data) > a.cfg.MaxMessageSize {
		a.incStat(func(s *Stats) { s.RejectedSize++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "oversized"})
		return
	}

	if env.ClientID == a.cfg.ClientID {
		a.incStat(func(s *Stats) { s.EchoSuppressed++ })
		a.emitDiagnostic(DiagnosticEchoSuppressed, map[string]interface{}{"messageId": env.MessageID})
		return
	}

	if a.dedup.seen(env.dedupKey(), time.Now()) {
		a.incStat(func(s *Stats) { s.DuplicatesDropped++ })
		a.emitDiagnostic(DiagnosticDuplicateDrop, map[string]interface{}{"messageId": env.MessageID})
		return
	}

	if a.limiter != nil && !a.limiter.Allow() {
		a.incStat(func(s *Stats) { s.RejectedRateLimit++ })
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "rate-limited"})
		return
	}

	if a.hooks.DispatchExternal == nil {
		return
	}
	local := bus.Envelope{
		ID:            env.MessageID,
		Topic:         env.Topic,
		TS:            env.Timestamp,
		SchemaVersion: env.SchemaVersion,
		Payload:       env.Payload,
		Meta:          mergeCrossTabMeta(env.Meta, env.ClientID),
	}
	if err := a.hooks.DispatchExternal(local); err != nil {
		a.emitDiagnostic(DiagnosticIngressRejected, map[string]interface{}{"reason": "dispatch-failed", "error": err.Error()})
		return
	}
	a.incStat(func(s *Stats) { s.Dispatched++ })
}

// mergeCrossTabMeta stamps an accepted inbound envelope's meta with the
// mandated cross-tab provenance keys before it is handed to
// DispatchExternal, so downstream handlers can tell a locally originated
// publish from one mirrored in from another tab (§4.7 step 7).
func mergeCrossTabMeta(meta map[string]interface{}, clientID string) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out["_crossTab"] = true
	out["_sourceClientId"] = clientID
	return out
}

func (a *CrossTabAdapter) emitSystemEvent(topic string) {
	if a.hooks.DispatchExternal == nil {
		return
	}
	_ = a.hooks.DispatchExternal(bus.Envelope{
		ID:    newClientID(),
		Topic: topic,
		TS:    time.Now().UnixMilli(),
		Payload: map[string]interface{}{
			"clientId": a.cfg.ClientID,
			"isLeader": a.cfg.Leadership.IsLeader(),
		},
	})
}

func (a *CrossTabAdapter) incStat(mutate func(*Stats)) {
	a.mu.Lock()
	mutate(&a.stats)
	a.mu.Unlock()
}

func (a *CrossTabAdapter) emitDiagnostic(eventType string, data map[string]interface{}) {
	if a.cfg.OnDiagnostic == nil {
		return
	}
	event := newDiagnosticEvent(eventType, "crosstab:"+a.cfg.ClientID, data)
	a.cfg.OnDiagnostic(event)
}
