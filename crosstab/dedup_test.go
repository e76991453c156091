package crosstab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupCacheSuppressesWithinTTL(t *testing.T) {
	d := newDedupCache(10, time.Hour)
	now := time.Now()

	require.False(t, d.seen("k1", now), "first sighting should not be suppressed")
	require.True(t, d.seen("k1", now), "second sighting within TTL should be suppressed")
}

func TestDedupCacheAllowsAfterTTLExpiry(t *testing.T) {
	d := newDedupCache(10, time.Millisecond)
	now := time.Now()

	require.False(t, d.seen("k1", now))
	later := now.Add(time.Hour)
	require.False(t, d.seen("k1", later), "expected entry past TTL to be treated as unseen")
}

func TestDedupCacheDistinctKeysIndependent(t *testing.T) {
	d := newDedupCache(10, time.Hour)
	now := time.Now()

	require.False(t, d.seen("msg-1:tab-a", now))
	require.False(t, d.seen("msg-1:tab-b", now), "same messageId from a different clientId is a distinct key")
}
