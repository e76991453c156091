package bus

import (
	"context"
	"fmt"
	"time"
)

// PublishOptions configures a single Publish call.
type PublishOptions struct {
	SchemaVersion string
	Meta          map[string]interface{}
}

// Publish validates, rate-limits, optionally schema-validates, retains, and
// schedules dispatch for topic/payload, following the ordering in §4.5:
// topic validation -> rate check -> schema validation -> envelope
// construction -> retention push -> handler selection -> publish-listener
// fanout -> schedule dispatch -> publish diagnostic. Listeners run before
// the dispatch task is enqueued, so they always see the message before any
// handler does.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}, opts PublishOptions) (Envelope, error) {
	if b.isDisposed() {
		return Envelope{}, ErrBusDisposed
	}

	start := time.Now()

	if err := ValidatePublishTopic(topic); err != nil {
		b.emitDiagnostic(DiagnosticWarning, map[string]interface{}{
			"reason": "invalid-topic",
			"topic":  topic,
		})
		return Envelope{}, fmtErr("publish", err)
	}

	if b.limiter != nil && !b.limiter.tryConsume() {
		b.incStat(func(s *Stats) { s.RateLimited++ })
		b.emitDiagnostic(DiagnosticRateLimited, map[string]interface{}{"topic": topic})

		if b.limiter.mode == RateLimitThrow {
			return Envelope{}, ErrRateLimited
		}

		stub := Envelope{
			ID:    newMessageID(),
			Topic: topic,
			TS:    nowMillis(),
			Meta:  map[string]interface{}{"_rateLimited": true},
		}
		return stub, nil
	}

	if opts.SchemaVersion != "" {
		if err := b.validateAgainstSchema(opts.SchemaVersion, payload); err != nil {
			return Envelope{}, err
		}
	}

	env := Envelope{
		ID:            newMessageID(),
		Topic:         topic,
		TS:            nowMillis(),
		SchemaVersion: opts.SchemaVersion,
		Payload:       payload,
		Meta:          opts.Meta,
	}

	if b.retention != nil {
		b.retention.evictExpired(env.TS)
		b.retention.push(&env)
	}

	b.incStat(func(s *Stats) { s.Published++ })

	matched := b.matchedSubscriptions(topic)
	b.notifyPublishListeners(env)
	b.scheduleDispatch(ctx, env, matched)

	b.emitDiagnostic(DiagnosticPublish, map[string]interface{}{
		"topic":        topic,
		"handlerCount": len(matched),
		"durationMs":   time.Since(start).Milliseconds(),
	})

	return env, nil
}

func (b *Bus) validateAgainstSchema(schemaVersion string, payload interface{}) error {
	schema, ok := b.schemas.Get(schemaVersion)
	if !ok {
		switch b.config.ValidationMode {
		case ValidationStrict:
			b.incStat(func(s *Stats) { s.ValidationErrors++ })
			return fmtErr("publish", ErrSchemaNotRegistered)
		case ValidationWarn:
			b.emitDiagnostic(DiagnosticWarning, map[string]interface{}{
				"reason":        "schema-not-registered",
				"schemaVersion": schemaVersion,
			})
			return nil
		default:
			return nil
		}
	}

	if b.config.ValidationMode == ValidationOff {
		return nil
	}

	result := Validate(schema, payload)
	if result.Valid {
		return nil
	}

	b.incStat(func(s *Stats) { s.ValidationErrors++ })
	b.emitDiagnostic(DiagnosticValidationError, map[string]interface{}{
		"schemaVersion": schemaVersion,
		"errors":        result.Errors,
	})

	if b.config.ValidationMode == ValidationStrict {
		return fmtErr("publish", fmt.Errorf("%w: %v", ErrSchemaValidation, result.Errors))
	}
	return nil
}

// matchedSubscriptions snapshots the handler set for topic at publish time,
// in pattern-insertion order across patterns and subscription-insertion
// order within a pattern (§4.5). The snapshot is immune to subsequent
// subscribe/unsubscribe calls (§4.5 "Subscriptions added or removed during
// dispatch do not affect the already-snapshotted handler set").
func (b *Bus) matchedSubscriptions(topic string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*subscription
	for _, pattern := range b.patternOrder {
		subs, ok := b.subsByPattern[pattern]
		if !ok {
			continue
		}
		for _, sub := range subs {
			if sub.cancelled {
				continue
			}
			if sub.matcher.Match(topic) {
				matched = append(matched, sub)
			}
		}
	}
	return matched
}

// scheduleDispatch enqueues exactly one dispatch task for env onto the
// single-threaded cooperative scheduler (§4.5, §5).
func (b *Bus) scheduleDispatch(ctx context.Context, env Envelope, matched []*subscription) {
	if len(matched) == 0 {
		return
	}
	// A concurrent Dispose may close dispatchQueue between the disposed
	// check in Publish/dispatchExternal and this send; recover rather than
	// propagate a panic from a best-effort delivery attempt.
	defer func() { _ = recover() }()
	b.dispatchQueue <- func() {
		b.deliverToHandlers(ctx, env, matched)
	}
}

func (b *Bus) deliverToHandlers(ctx context.Context, env Envelope, matched []*subscription) {
	for _, sub := range matched {
		if !sub.sourceFilter.matches(env.Meta) {
			continue
		}
		b.invokeHandler(ctx, sub, env)
	}
}

// invokeHandler calls sub.handler, recovering from a panic the way a
// throwing handler in the source's bulkhead-isolation model would be
// caught: the error (or panic value) is reported via a handler-error
// diagnostic and never prevents delivery to the next handler (§4.5, §7).
func (b *Bus) invokeHandler(ctx context.Context, sub *subscription, env Envelope) {
	var handlerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("panic: %v", r)
			}
		}()
		handlerErr = sub.handler(ctx, env)
	}()

	if handlerErr != nil {
		b.incStat(func(s *Stats) { s.HandlerErrors++ })
		b.emitDiagnostic(DiagnosticHandlerError, map[string]interface{}{
			"topic":   env.Topic,
			"pattern": sub.pattern,
			"error":   handlerErr.Error(),
		})
		return
	}
	b.incStat(func(s *Stats) { s.Dispatched++ })
}

// Subscribe registers handler for pattern. If opts.Replay > 0 and
// retention is configured, up to that many matching retained messages are
// delivered synchronously to handler alone before Subscribe returns
// (§4.5).
func (b *Bus) Subscribe(pattern string, handler Handler, opts SubscribeOptions) (Unsubscribe, error) {
	if b.isDisposed() {
		return nil, ErrBusDisposed
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}

	matcher, err := b.matchers.compile(pattern)
	if err != nil {
		return nil, fmtErr("subscribe", err)
	}

	b.mu.Lock()
	if len(b.subsByPattern[pattern]) >= b.config.MaxHandlersPerTopic {
		b.mu.Unlock()
		b.emitDiagnostic(DiagnosticLimitExceeded, map[string]interface{}{"pattern": pattern})
		if b.config.OnMaxHandlersExceeded == MaxHandlersThrow {
			return nil, ErrHandlerLimitExceeded
		}
		return func() {}, nil
	}

	sub := &subscription{
		id:           newMessageID(),
		pattern:      pattern,
		matcher:      matcher,
		handler:      handler,
		sourceFilter: opts.SourceFilter,
	}

	if _, exists := b.subsByPattern[pattern]; !exists {
		b.patternOrder = append(b.patternOrder, pattern)
	}
	b.subsByPattern[pattern] = append(b.subsByPattern[pattern], sub)
	b.subsByID[sub.id] = sub
	b.mu.Unlock()

	b.emitDiagnostic(DiagnosticSubscribe, map[string]interface{}{"pattern": pattern})

	if opts.Replay > 0 && b.retention != nil {
		for _, env := range b.retention.getMatching(matcher, nowMillis(), opts.Replay) {
			b.invokeHandler(context.Background(), sub, *env)
		}
	}

	unsub := func() { b.unsubscribe(sub) }

	if opts.Cancel != nil {
		go func() {
			<-opts.Cancel
			unsub()
		}()
	}

	return unsub, nil
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.cancelled {
		return
	}
	sub.cancelled = true

	subs := b.subsByPattern[sub.pattern]
	filtered := subs[:0]
	for _, s := range subs {
		if s.id != sub.id {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		delete(b.subsByPattern, sub.pattern)
		b.removePatternOrderLocked(sub.pattern)
	} else {
		b.subsByPattern[sub.pattern] = filtered
	}
	delete(b.subsByID, sub.id)
}

func (b *Bus) removePatternOrderLocked(pattern string) {
	for i, p := range b.patternOrder {
		if p == pattern {
			b.patternOrder = append(b.patternOrder[:i], b.patternOrder[i+1:]...)
			return
		}
	}
}

// dispatchExternal validates envelope shape, bypasses retention and the
// publish-listener fanout, and schedules dispatch exactly as Publish would
// (§4.6, §8 property 10). Invalid envelopes are not dispatched: they emit a
// validation-error diagnostic and ErrInvalidExternalEnvelope is returned.
func (b *Bus) dispatchExternal(env Envelope) error {
	if b.isDisposed() {
		return ErrBusDisposed
	}
	if env.ID == "" || env.Topic == "" {
		b.emitDiagnostic(DiagnosticValidationError, map[string]interface{}{
			"reason": "invalid-external-envelope",
		})
		return ErrInvalidExternalEnvelope
	}
	if _, err := CompilePattern(env.Topic); err != nil {
		b.emitDiagnostic(DiagnosticValidationError, map[string]interface{}{
			"reason": "invalid-external-topic",
			"topic":  env.Topic,
		})
		return ErrInvalidExternalEnvelope
	}

	matched := b.matchedSubscriptions(env.Topic)
	b.scheduleDispatch(context.Background(), env, matched)
	return nil
}

// GetHistory returns retained messages matching pattern, honoring fromTime
// and limit (§6). Returns empty if retention is disabled.
func (b *Bus) GetHistory(pattern string, fromTime int64, hasFromTime bool, limit int) ([]Envelope, error) {
	if b.retention == nil {
		return nil, nil
	}
	matcher, err := b.matchers.compile(pattern)
	if err != nil {
		return nil, fmtErr("getHistory", err)
	}

	all := b.retention.getMessages(nowMillis(), fromTime, hasFromTime)
	result := make([]Envelope, 0, len(all))
	for _, e := range all {
		if matcher.Match(e.Topic) {
			result = append(result, *e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (b *Bus) incStat(mutate func(*Stats)) {
	b.mu.Lock()
	mutate(&b.stats)
	b.mu.Unlock()
}
