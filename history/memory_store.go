package history

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the reference Store implementation: a slice per namespace,
// kept sorted by Timestamp by insertion-sorting each Put, with a secondary
// by-MessageID index for idempotent Put and Get; topic-prefix queries scan
// the slice linearly. Grounded on the eventbus module's
// map[string][]Event eventHistory plus its byTopic-keyed retention
// bookkeeping in memory.go.
type MemoryStore struct {
	mu    sync.RWMutex
	state State

	records map[string][]Record          // namespace -> records sorted by Timestamp
	byID    map[string]map[string]Record // namespace -> MessageID -> record, for idempotent Put/Get
}

// NewMemoryStore constructs an unopened MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:   StateNew,
		records: make(map[string][]Record),
		byID:    make(map[string]map[string]Record),
	}
}

func (s *MemoryStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		return nil
	}
	s.state = StateOpening
	if s.records == nil {
		s.records = make(map[string][]Record)
	}
	if s.byID == nil {
		s.byID = make(map[string]map[string]Record)
	}
	s.state = StateOpen
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	return nil
}

func (s *MemoryStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Put inserts rec unless a record with the same MessageID already exists in
// rec.Namespace, per the by-id index in byID (§4.8 "put is idempotent by
// id").
func (s *MemoryStore) Put(rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false, ErrStoreNotOpen
	}

	byID, ok := s.byID[rec.Namespace]
	if !ok {
		byID = make(map[string]Record)
		s.byID[rec.Namespace] = byID
	}
	if _, exists := byID[rec.MessageID]; exists {
		return false, nil
	}

	ns := s.records[rec.Namespace]
	idx := sort.Search(len(ns), func(i int) bool { return ns[i].Timestamp > rec.Timestamp })
	ns = append(ns, Record{})
	copy(ns[idx+1:], ns[idx:])
	ns[idx] = rec
	s.records[rec.Namespace] = ns
	byID[rec.MessageID] = rec
	return true, nil
}

// Get returns the record with id in namespace via the by-id index, and
// whether it was found.
func (s *MemoryStore) Get(namespace, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return Record{}, false, ErrStoreNotOpen
	}
	rec, ok := s.byID[namespace][id]
	return rec, ok, nil
}

func (s *MemoryStore) Query(q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return nil, ErrStoreNotOpen
	}

	ns := s.records[q.Namespace]
	result := make([]Record, 0, len(ns))
	for _, rec := range ns {
		if q.HasFromTime && rec.Timestamp < q.FromTime {
			continue
		}
		if q.TopicPrefix != "" && !strings.HasPrefix(rec.Topic, q.TopicPrefix) {
			continue
		}
		result = append(result, rec)
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[len(result)-q.Limit:]
	}
	return result, nil
}

func (s *MemoryStore) Count(namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return 0, ErrStoreNotOpen
	}
	return len(s.records[namespace]), nil
}

func (s *MemoryStore) GetExpired(namespace string, cutoffMs int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return nil, ErrStoreNotOpen
	}
	var expired []Record
	for _, rec := range s.records[namespace] {
		if rec.Timestamp < cutoffMs {
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

func (s *MemoryStore) GetOldest(namespace string, n int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return nil, ErrStoreNotOpen
	}
	ns := s.records[namespace]
	if n > len(ns) {
		n = len(ns)
	}
	out := make([]Record, n)
	copy(out, ns[:n])
	return out, nil
}

func (s *MemoryStore) DeleteMany(namespace string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrStoreNotOpen
	}
	if len(messageIDs) == 0 {
		return nil
	}
	toDelete := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		toDelete[id] = struct{}{}
	}

	ns := s.records[namespace]
	filtered := ns[:0]
	for _, rec := range ns {
		if _, drop := toDelete[rec.MessageID]; !drop {
			filtered = append(filtered, rec)
		}
	}
	s.records[namespace] = filtered

	byID := s.byID[namespace]
	for id := range toDelete {
		delete(byID, id)
	}
	return nil
}

func (s *MemoryStore) ClearNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrStoreNotOpen
	}
	delete(s.records, namespace)
	delete(s.byID, namespace)
	return nil
}
