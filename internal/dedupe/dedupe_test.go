package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsDuplicate_FirstSeenIsNotDuplicate(t *testing.T) {
	d := New(10 * time.Second)
	require.False(t, d.IsDuplicate("node1", "hello"))
}

func TestIsDuplicate_RepeatWithinTTLIsDuplicate(t *testing.T) {
	now := time.Now()
	clock := now
	d := New(10 * time.Second)
	d.now = func() time.Time { return clock }

	require.False(t, d.IsDuplicate("node1", "hello"))
	clock = clock.Add(5 * time.Second)
	require.True(t, d.IsDuplicate("node1", "hello"))
}

func TestIsDuplicate_RepeatAfterTTLIsNotDuplicate(t *testing.T) {
	now := time.Now()
	clock := now
	d := New(10 * time.Second)
	d.now = func() time.Time { return clock }

	require.False(t, d.IsDuplicate("node1", "hello"))
	clock = clock.Add(11 * time.Second)
	require.False(t, d.IsDuplicate("node1", "hello"))
}

func TestIsDuplicate_DifferentNodesAreIndependent(t *testing.T) {
	d := New(10 * time.Second)
	require.False(t, d.IsDuplicate("node1", "hello"))
	require.False(t, d.IsDuplicate("node2", "hello"))
}

func TestPrune_RemovesExpiredEntries(t *testing.T) {
	now := time.Now()
	clock := now
	d := New(10 * time.Second)
	d.now = func() time.Time { return clock }

	d.IsDuplicate("node1", "hello")
	clock = clock.Add(11 * time.Second)
	d.Prune()

	d.mu.Lock()
	_, ok := d.seen[key("node1", "hello")]
	d.mu.Unlock()
	require.False(t, ok)
}
