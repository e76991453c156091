package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putOK(t *testing.T, s *MemoryStore, rec Record) {
	t.Helper()
	inserted, err := s.Put(rec)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestMemoryStorePutQueryOrderedByTimestamp(t *testing.T) {
	s := newOpenStore(t)

	putOK(t, s, Record{Namespace: "ns", MessageID: "b", Topic: "t", Timestamp: 200})
	putOK(t, s, Record{Namespace: "ns", MessageID: "a", Topic: "t", Timestamp: 100})
	putOK(t, s, Record{Namespace: "ns", MessageID: "c", Topic: "t", Timestamp: 300})

	recs, err := s.Query(Query{Namespace: "ns"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "a", recs[0].MessageID)
	require.Equal(t, "b", recs[1].MessageID)
	require.Equal(t, "c", recs[2].MessageID)
}

func TestMemoryStoreQueryRespectsNamespaceIsolation(t *testing.T) {
	s := newOpenStore(t)
	putOK(t, s, Record{Namespace: "ns-a", MessageID: "1", Topic: "t", Timestamp: 1})
	putOK(t, s, Record{Namespace: "ns-b", MessageID: "2", Topic: "t", Timestamp: 2})

	recs, err := s.Query(Query{Namespace: "ns-a"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "1", recs[0].MessageID)
}

func TestMemoryStoreOperationsFailWhenNotOpen(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Put(Record{Namespace: "ns"})
	require.ErrorIs(t, err, ErrStoreNotOpen)
}

// TestMemoryStorePutIsIdempotentByID: put(r) followed by put(r) yields
// (true, nil) then (false, nil), and the namespace count increases by
// exactly one (§4.8 property 6).
func TestMemoryStorePutIsIdempotentByID(t *testing.T) {
	s := newOpenStore(t)
	rec := Record{Namespace: "ns", MessageID: "dup-1", Topic: "t", Timestamp: 100}

	inserted, err := s.Put(rec)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.Put(rec)
	require.NoError(t, err)
	require.False(t, inserted, "expected a second Put of the same id to be reported as a duplicate")

	count, err := s.Count("ns")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMemoryStoreGetReturnsStructurallyEqualRecord(t *testing.T) {
	s := newOpenStore(t)
	rec := Record{Namespace: "ns", MessageID: "r1", Topic: "t", Payload: "p", Timestamp: 100}
	putOK(t, s, rec)

	got, ok, err := s.Get("ns", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)

	_, ok, err = s.Get("ns", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
