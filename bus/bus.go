// Package bus implements the in-process publish/subscribe core described in
// SPEC_FULL.md: hierarchical topic matching with MQTT-style wildcards,
// single-threaded cooperative dispatch with per-handler fault isolation,
// retention replay, bus-local schema validation, and a token-bucket rate
// limiter. Cross-tab mirroring and history persistence are layered on top
// via the Hooks surface returned by Bus.GetHooks, used by the sibling crosstab and
// history packages.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ValidationMode controls how Bus.Publish treats schema-validated payloads.
type ValidationMode string

const (
	ValidationOff    ValidationMode = "off"
	ValidationWarn   ValidationMode = "warn"
	ValidationStrict ValidationMode = "strict"
)

// MaxHandlersMode controls what happens when a subscription would exceed
// MaxHandlersPerTopic.
type MaxHandlersMode string

const (
	MaxHandlersThrow MaxHandlersMode = "throw"
	MaxHandlersWarn  MaxHandlersMode = "warn"
)

// Config is the full configuration enumeration from §6.
type Config struct {
	App                 string
	ValidationMode      ValidationMode
	OnDiagnostic        DiagnosticHandler
	MaxHandlersPerTopic int
	OnMaxHandlersExceeded MaxHandlersMode
	Debug               bool
	Retention           *RetentionConfig
	RateLimit           *RateLimitConfig
	Logger              *slog.Logger
}

// defaultConfig merges zero-valued fields of cfg against defaults, the way
// the eventbus module's RegisterConfig seeds an EventBusConfig.
func defaultConfig(cfg Config) Config {
	if cfg.App == "" {
		cfg.App = "default"
	}
	if cfg.ValidationMode == "" {
		cfg.ValidationMode = ValidationOff
	}
	if cfg.MaxHandlersPerTopic == 0 {
		cfg.MaxHandlersPerTopic = 50
	}
	if cfg.OnMaxHandlersExceeded == "" {
		cfg.OnMaxHandlersExceeded = MaxHandlersThrow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Handler processes a matched envelope. It may return an error, or panic;
// either is caught and reported via a handler-error diagnostic and never
// blocks delivery to sibling handlers (§4.5).
type Handler func(ctx context.Context, env Envelope) error

// SubscribeOptions configures a single Subscribe call (§3).
type SubscribeOptions struct {
	// Replay requests N matching retained messages be delivered
	// synchronously to this handler before Subscribe returns (§4.5).
	Replay int
	// SourceFilter restricts delivery by meta["source"].
	SourceFilter *SourceFilter
	// Cancel, if non-nil, is closed externally to detach the subscription
	// (models the source's AbortSignal, §3/§5 "Cancellation").
	Cancel <-chan struct{}
}

// Unsubscribe detaches a subscription. Safe to call more than once.
type Unsubscribe func()

type subscription struct {
	id           string
	pattern      string
	matcher      *Matcher
	handler      Handler
	sourceFilter *SourceFilter
	cancelled    bool
}

// Hooks is the low-level adapter integration surface (§4.6, §6).
type Hooks struct {
	// OnPublish registers a listener notified for every locally published
	// message, after retention push and before dispatch scheduling.
	OnPublish func(listener func(Envelope)) (unsubscribe func())
	// DispatchExternal validates envelope shape, bypasses retention and the
	// publish-listener fanout, and schedules dispatch like Publish would.
	DispatchExternal func(env Envelope) error
}

// Stats is a point-in-time counters snapshot (SPEC_FULL.md supplemented
// feature #1), grounded on health.go's collectEventBusStatistics.
type Stats struct {
	Published        uint64
	Dispatched       uint64
	HandlerErrors    uint64
	RateLimited      uint64
	ValidationErrors uint64
}

// Bus is the core publish/subscribe engine.
type Bus struct {
	config Config

	mu            sync.RWMutex
	subsByPattern map[string][]*subscription // insertion order preserved
	subsByID      map[string]*subscription

	retention *ring
	schemas   *SchemaRegistry
	limiter   *rateLimiter
	matchers  *matcherCache

	patternOrder []string // preserves first-subscription order across patterns

	publishListeners   map[int]func(Envelope)
	nextListenerID     int
	publishListenersMu sync.Mutex

	dispatchQueue chan func()
	dispatchDone  chan struct{}

	disposed bool

	stats Stats
}

// New constructs a Bus per the given configuration. The matching
// spec.md entry point is createPubSub(config) -> bus.
func New(cfg Config) *Bus {
	cfg = defaultConfig(cfg)

	b := &Bus{
		config:           cfg,
		subsByPattern:    make(map[string][]*subscription),
		subsByID:         make(map[string]*subscription),
		schemas:          NewSchemaRegistry(),
		matchers:         newMatcherCache(),
		publishListeners: make(map[int]func(Envelope)),
		dispatchQueue:    make(chan func(), 256),
		dispatchDone:     make(chan struct{}),
	}

	if cfg.Retention != nil && cfg.Retention.MaxMessages > 0 {
		b.retention = newRing(cfg.Retention.MaxMessages, cfg.Retention.TTLMs)
	}
	if cfg.RateLimit != nil {
		b.limiter = newRateLimiter(*cfg.RateLimit)
	}

	go b.runDispatchLoop()

	return b
}

// runDispatchLoop is the single-threaded cooperative scheduler: every
// publish enqueues exactly one task here, and tasks execute strictly in
// enqueue order, giving the "microtask scheduled once per publish, handlers
// execute synchronously inside it" guarantee from §4.5/§5.
func (b *Bus) runDispatchLoop() {
	for task := range b.dispatchQueue {
		task()
	}
	close(b.dispatchDone)
}

// RegisterSchema registers schema under id in this bus's local registry.
func (b *Bus) RegisterSchema(id string, schema Schema) error {
	return b.schemas.Register(id, schema)
}

// HandlerCount returns the number of handlers for pattern, or the total
// across all patterns if pattern is empty (§6).
func (b *Bus) HandlerCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pattern != "" {
		return len(b.subsByPattern[pattern])
	}
	total := 0
	for _, subs := range b.subsByPattern {
		total += len(subs)
	}
	return total
}

// Clear removes all subscriptions and retained messages without disposing
// the bus; it remains usable afterward.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subsByPattern = make(map[string][]*subscription)
	b.subsByID = make(map[string]*subscription)
	b.patternOrder = nil
	b.mu.Unlock()

	if b.retention != nil {
		b.retention.clear()
	}
}

// Dispose permanently shuts the bus down: further mutating operations
// return ErrBusDisposed; read hooks return empty results (§3, §7).
func (b *Bus) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.subsByPattern = make(map[string][]*subscription)
	b.subsByID = make(map[string]*subscription)
	b.patternOrder = nil
	b.mu.Unlock()

	if b.retention != nil {
		b.retention.clear()
	}
	// Close, not drain-and-wait: closing only stops new sends, the
	// dispatch loop still finishes any already-queued (including
	// in-flight) task before exiting. Blocking here would deadlock a
	// Dispose called synchronously from within a handler (§4.5/§5).
	close(b.dispatchQueue)
}

// GetHooks returns the adapter integration surface (§4.6, §6).
func (b *Bus) GetHooks() Hooks {
	return Hooks{
		OnPublish:        b.onPublish,
		DispatchExternal: b.dispatchExternal,
	}
}

func (b *Bus) onPublish(listener func(Envelope)) func() {
	b.publishListenersMu.Lock()
	id := b.nextListenerID
	b.nextListenerID++
	b.publishListeners[id] = listener
	b.publishListenersMu.Unlock()

	return func() {
		b.publishListenersMu.Lock()
		delete(b.publishListeners, id)
		b.publishListenersMu.Unlock()
	}
}

func (b *Bus) notifyPublishListeners(env Envelope) {
	b.publishListenersMu.Lock()
	listeners := make([]func(Envelope), 0, len(b.publishListeners))
	for _, l := range b.publishListeners {
		listeners = append(listeners, l)
	}
	b.publishListenersMu.Unlock()

	for _, l := range listeners {
		l(env)
	}
}

// Stats returns a snapshot of cumulative bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *Bus) isDisposed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disposed
}

// fmtErr wraps an error with additional context, mirroring the teacher's
// "%w" wrapping convention throughout module.go.
func fmtErr(action string, err error) error {
	return fmt.Errorf("bus: %s: %w", action, err)
}
