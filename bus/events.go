package bus

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Diagnostic event type constants, following CloudEvents reverse-domain
// notation the way the eventbus module names its own event types.
const (
	DiagnosticPublish         = "com.compositeui.pubsub.publish"
	DiagnosticSubscribe       = "com.compositeui.pubsub.subscribe"
	DiagnosticUnsubscribe     = "com.compositeui.pubsub.unsubscribe"
	DiagnosticHandlerError    = "com.compositeui.pubsub.handler-error"
	DiagnosticValidationError = "com.compositeui.pubsub.validation-error"
	DiagnosticWarning         = "com.compositeui.pubsub.warning"
	DiagnosticLimitExceeded   = "com.compositeui.pubsub.limit-exceeded"
	DiagnosticRateLimited     = "com.compositeui.pubsub.rate-limited"
)

// DiagnosticHandler receives diagnostic events emitted by a Bus. It must not
// block for long; the bus invokes it synchronously at the point of emission.
type DiagnosticHandler func(event cloudevents.Event)

// newDiagnosticEvent builds a CloudEvent carrying diagnostic data, mirroring
// modular.NewCloudEvent(eventType, source, data, nil) from the eventbus
// module's event-emission helper.
func newDiagnosticEvent(eventType, source string, data map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newMessageID())
	event.SetType(eventType)
	event.SetSource(source)
	event.SetTime(time.Now())
	_ = event.SetData(cloudevents.ApplicationJSON, data)
	return event
}

// emitDiagnostic is a no-op-safe helper: a nil handler means diagnostics are
// discarded, matching the config default of a noop onDiagnostic.
func (b *Bus) emitDiagnostic(eventType string, data map[string]interface{}) {
	if b.config.OnDiagnostic == nil {
		return
	}
	event := newDiagnosticEvent(eventType, "pubsub-bus:"+b.config.App, data)
	b.config.OnDiagnostic(event)
}
