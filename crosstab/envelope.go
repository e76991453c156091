package crosstab

import "github.com/google/uuid"

// EnvelopeVersion is the only cross-tab wire version this adapter accepts.
// A future breaking change to the wire shape bumps this constant (§4.2).
const EnvelopeVersion = 1

// Envelope is the wire format exchanged between tabs over a Transport. It
// is deliberately flat and JSON-serializable so it can cross a
// BroadcastChannel/MessageChannel boundary (represented here by any
// Transport implementation) without loss.
type Envelope struct {
	MessageID     string                 `json:"messageId"`
	ClientID      string                 `json:"clientId"`
	Topic         string                 `json:"topic"`
	Payload       interface{}            `json:"payload"`
	Timestamp     int64                  `json:"timestamp"`
	Version       int                    `json:"version"`
	Origin        string                 `json:"origin"`
	Sequence      uint64                 `json:"sequence"`
	Source        string                 `json:"source,omitempty"`
	SchemaVersion string                 `json:"schemaVersion,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

// dedupKey is the composite key used by the dedup cache: messageId alone is
// not sufficient because two independently-generated envelopes could
// collide across clients in pathological uuid-fallback scenarios (§4.2).
func (e Envelope) dedupKey() string {
	return e.MessageID + ":" + e.ClientID
}

func newClientID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// validateStructure checks the minimal shape required before an inbound
// envelope is allowed further into the ingress chain (§4.2 stage 1,
// "structural validation").
func (e Envelope) validateStructure() error {
	if e.MessageID == "" || e.ClientID == "" || e.Topic == "" {
		return ErrInvalidEnvelope
	}
	if e.Version != EnvelopeVersion {
		return ErrUnsupportedVersion
	}
	return nil
}
