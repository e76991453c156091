package crosstab

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Diagnostic event type constants, following the same reverse-domain
// convention as the bus package's diagnostics.
const (
	DiagnosticAttach          = "com.compositeui.crosstab.attach"
	DiagnosticDetach          = "com.compositeui.crosstab.detach"
	DiagnosticSend            = "com.compositeui.crosstab.send"
	DiagnosticReceive         = "com.compositeui.crosstab.receive"
	DiagnosticEchoSuppressed  = "com.compositeui.crosstab.echo-suppressed"
	DiagnosticDuplicateDrop   = "com.compositeui.crosstab.duplicate-dropped"
	DiagnosticIngressRejected = "com.compositeui.crosstab.ingress-rejected"
	DiagnosticTransportError  = "com.compositeui.crosstab.transport-error"
)

// DiagnosticHandler receives diagnostic events emitted by a CrossTabAdapter.
type DiagnosticHandler func(event cloudevents.Event)

func newDiagnosticEvent(eventType, source string, data map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newClientID())
	event.SetType(eventType)
	event.SetSource(source)
	event.SetTime(time.Now())
	_ = event.SetData(cloudevents.ApplicationJSON, data)
	return event
}

// Stats counts how many inbound envelopes were stopped at each ingress
// validation stage (§4.2 "7-stage ingress validation chain"), plus
// outbound counters, as a point-in-time snapshot.
type Stats struct {
	Sent               uint64
	Received           uint64
	RejectedStructural uint64
	RejectedOrigin     uint64
	RejectedSize       uint64
	EchoSuppressed     uint64
	DuplicatesDropped  uint64
	RejectedRateLimit  uint64
	Dispatched         uint64
}
