package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/store"
)

func TestCoordinator_DeliversQueuedBatch(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	var mu sync.Mutex
	var received []packets.ToUser
	done := make(chan struct{})

	sendFn := func(ctx context.Context, nodeID, username string, batch []packets.ToUser) (bool, error) {
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		close(done)
		return true, nil
	}
	disconnectCalled := false
	c := NewCoordinator(m, sendFn, func(string, int64, bool) { disconnectCalled = true }, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartListener(ctx, id)

	st := m.GetSessionState(id)
	st.MsgQueue <- []packets.ToUser{{Text: "hello"}}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	require.Len(t, received, 1)
	require.Equal(t, "hello", received[0].Text)
	mu.Unlock()
	require.False(t, disconnectCalled)
}

func TestCoordinator_DisconnectsOnSendFailure(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	disconnected := make(chan int64, 1)
	sendFn := func(ctx context.Context, nodeID, username string, batch []packets.ToUser) (bool, error) {
		return false, nil
	}
	c := NewCoordinator(m, sendFn, func(sessionID string, readingMsgID int64, has bool) {
		disconnected <- readingMsgID
	}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartListener(ctx, id)

	st := m.GetSessionState(id)
	st.MsgQueue <- []packets.ToUser{{Message: &store.Message{ID: 42}}}

	select {
	case id := <-disconnected:
		require.Equal(t, int64(42), id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func TestCoordinator_CleanupListenerStopsIt(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	c := NewCoordinator(m, func(context.Context, string, string, []packets.ToUser) (bool, error) { return true, nil },
		func(string, int64, bool) {}, time.Millisecond)

	c.StartListener(context.Background(), id)
	c.CleanupListener(id)

	c.mu.Lock()
	_, exists := c.listeners[id]
	c.mu.Unlock()
	require.False(t, exists)
}
