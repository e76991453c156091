package bus

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// idCounter backs the fallback id generator used if uuid generation ever
// fails (the google/uuid v4 generator is effectively infallible on modern
// platforms, but the fallback keeps newMessageID total per §3's "fallback:
// monotonic counter + random" rule).
var idCounter uint64

// newMessageID returns a UUID v4 string, falling back to a monotonic
// counter combined with a math/rand value if generation fails.
func newMessageID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	n := atomic.AddUint64(&idCounter, 1)
	return "fallback-" + itoa(rand.Uint64()) + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Envelope is the immutable message record carried through the bus. Once
// constructed by Publish, its fields are never mutated except for the
// bus-owned `_rateLimited` meta flag set on a rate-limit stub envelope.
type Envelope struct {
	ID            string                 `json:"id"`
	Topic         string                 `json:"topic"`
	TS            int64                  `json:"ts"`
	SchemaVersion string                 `json:"schemaVersion,omitempty"`
	Payload       interface{}            `json:"payload"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

// ensureMeta allocates the envelope's meta map in place if it is nil, so a
// following write never targets a nil map.
func (e *Envelope) ensureMeta() {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// SourceFilter restricts delivery of a subscription to envelopes whose
// meta["source"] value is in Include (if non-empty) and not in Exclude.
// Exclude takes precedence over Include, per §3.
type SourceFilter struct {
	Include []string
	Exclude []string
}

func (f *SourceFilter) matches(meta map[string]interface{}) bool {
	if f == nil {
		return true
	}
	var source string
	if meta != nil {
		if s, ok := meta["source"].(string); ok {
			source = s
		}
	}
	for _, excluded := range f.Exclude {
		if excluded == source {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, included := range f.Include {
		if included == source {
			return true
		}
	}
	return false
}
