package history

// Record is a persisted, namespaced message. Namespace lets independent
// embedders of this module (e.g. multiple composite widgets sharing one
// process) share a single Store without colliding on topic alone.
type Record struct {
	Namespace string
	MessageID string
	Topic     string
	Payload   interface{}
	Timestamp int64
	Meta      map[string]interface{}
}

// Query bounds a Store lookup.
type Query struct {
	Namespace   string
	TopicPrefix string // matches Topic having this literal prefix, empty matches all
	FromTime    int64
	HasFromTime bool
	Limit       int
}

// State models a Store's lifecycle: new -> opening -> open <-> closed,
// mirroring the request/response lifecycle the bus's own components use
// (compile-once matcher cache, run-once dispatch loop) but explicit here
// because a Store can be legitimately reopened after Close (§4.3 "history
// adapter reopens the store on demand post-detach").
type State int

const (
	StateNew State = iota
	StateOpening
	StateOpen
	StateClosed
)

// Store is the persistence interface a HistoryAdapter writes through and
// queries reads come from. MemoryStore is the reference implementation;
// a host embedding this module may supply one backed by IndexedDB,
// SQLite, or any other durable store behind the same interface.
type Store interface {
	Open() error
	Close() error
	State() State

	// Put is idempotent by (namespace, MessageID): it returns inserted=true
	// when rec was newly stored, or inserted=false when a record with the
	// same MessageID already exists in that namespace (no overwrite).
	Put(rec Record) (inserted bool, err error)
	// Get returns the record with id in namespace, and whether it was found.
	Get(namespace, id string) (Record, bool, error)
	Query(q Query) ([]Record, error)
	Count(namespace string) (int, error)

	// GetExpired returns records in namespace older than cutoff (Unix
	// millis), for GC's expired-removal pass.
	GetExpired(namespace string, cutoffMs int64) ([]Record, error)
	// GetOldest returns up to n of the oldest records in namespace, for
	// GC's overflow-removal pass (oldest-first eviction once a namespace
	// exceeds its message cap).
	GetOldest(namespace string, n int) ([]Record, error)
	// DeleteMany removes the given message ids from namespace.
	DeleteMany(namespace string, messageIDs []string) error
	// ClearNamespace removes every record in namespace.
	ClearNamespace(namespace string) error
}
