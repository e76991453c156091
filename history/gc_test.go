package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// erroringStore wraps a MemoryStore but forces GetExpired to fail, to
// exercise GCConfig.OnError's store-error reporting path.
type erroringStore struct {
	*MemoryStore
}

func (s *erroringStore) GetExpired(namespace string, cutoffMs int64) ([]Record, error) {
	return nil, errors.New("boom")
}

// TestGCRemovesOverflowOldestFirst simulates a namespace exceeding
// MaxMessages and asserts the oldest records are evicted first, leaving
// exactly MaxMessages newest records behind (§8 GC-overflow scenario).
func TestGCRemovesOverflowOldestFirst(t *testing.T) {
	s := newOpenStore(t)
	for i := 0; i < 5; i++ {
		putOK(t, s, Record{
			Namespace: "ns",
			MessageID: string(rune('a' + i)),
			Topic:     "t",
			Timestamp: int64(i),
		})
	}

	gc := NewGarbageCollector(s, GCConfig{MaxMessages: 3})
	gc.TrackNamespace("ns")

	result, err := gc.RunFullGC()
	require.NoError(t, err)
	require.Equal(t, 2, result.OverflowRemoved)

	recs, err := s.Query(Query{Namespace: "ns"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		require.GreaterOrEqual(t, r.Timestamp, int64(2), "expected oldest records evicted")
	}
}

func TestGCExpiresRecordsPastTTL(t *testing.T) {
	s := newOpenStore(t)
	now := time.Now()
	putOK(t, s, Record{Namespace: "ns", MessageID: "old", Topic: "t", Timestamp: now.Add(-time.Hour).UnixMilli()})
	putOK(t, s, Record{Namespace: "ns", MessageID: "new", Topic: "t", Timestamp: now.UnixMilli()})

	gc := NewGarbageCollector(s, GCConfig{TTL: 10 * time.Minute})
	gc.TrackNamespace("ns")

	result, err := gc.RunFullGC()
	require.NoError(t, err)
	require.Equal(t, 1, result.ExpiredRemoved)

	recs, err := s.Query(Query{Namespace: "ns"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "new", recs[0].MessageID)
}

func TestGCReportsStoreErrorsViaOnError(t *testing.T) {
	s := &erroringStore{MemoryStore: newOpenStore(t)}
	var gotErr error
	gc := NewGarbageCollector(s, GCConfig{TTL: time.Minute, OnError: func(err error) { gotErr = err }})
	gc.TrackNamespace("ns")

	_, err := gc.RunFullGC()
	require.NoError(t, err)
	require.Error(t, gotErr)
}

func TestGCConcurrentInvocationShortCircuits(t *testing.T) {
	s := newOpenStore(t)
	gc := NewGarbageCollector(s, GCConfig{MaxMessages: 1})
	gc.TrackNamespace("ns")

	gc.running = 1 // simulate an in-flight pass
	result, err := gc.RunFullGC()
	require.NoError(t, err)
	require.Equal(t, GCResult{}, result)
}
