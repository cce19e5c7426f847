package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateAndValidateSession(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")
	require.True(t, m.ValidateSession(id))

	sid, ok := m.GetSessionByNodeID("node1")
	require.True(t, ok)
	require.Equal(t, id, sid)
}

func TestMarkUsernameAndLoggedIn(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	m.MarkUsername(id, "alice")
	m.MarkLoggedIn(id, true)

	st := m.GetSessionState(id)
	require.Equal(t, "alice", st.Username)
	require.True(t, st.LoggedIn)
}

func TestSetAndClearWorkflow(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	m.SetWorkflow(id, &WorkflowState{Kind: "login"})
	require.Equal(t, "login", m.GetSessionState(id).Workflow.Kind)

	m.ClearWorkflow(id)
	require.Nil(t, m.GetSessionState(id).Workflow)
}

func TestExpireSession_RemovesFromBothTables(t *testing.T) {
	m := New(time.Hour, nil)
	id := m.CreateSession(context.Background(), "node1")

	require.True(t, m.ExpireSession(id))
	require.False(t, m.ValidateSession(id))
	_, ok := m.GetSessionByNodeID("node1")
	require.False(t, ok)
}

func TestSweep_ExpiresIdleSessionsAndNotifies(t *testing.T) {
	now := time.Now()
	clock := now
	m := New(time.Hour, nil)
	m.now = func() time.Time { return clock }

	id := m.CreateSession(context.Background(), "node1")
	m.SetWorkflow(id, &WorkflowState{Kind: "login"})

	var notified []string
	m.SetNotificationCallback(func(sessionID, msg string) {
		notified = append(notified, sessionID+":"+msg)
	})

	clock = clock.Add(2 * time.Hour)
	m.Sweep()

	require.False(t, m.ValidateSession(id))
	require.Equal(t, []string{id + ":Signal lost"}, notified)
}

func TestSweep_LeavesFreshSessionsAlone(t *testing.T) {
	now := time.Now()
	clock := now
	m := New(time.Hour, nil)
	m.now = func() time.Time { return clock }

	id := m.CreateSession(context.Background(), "node1")
	clock = clock.Add(time.Minute)
	m.Sweep()

	require.True(t, m.ValidateSession(id))
}

func TestTouchSession_UnknownSessionReturnsFalse(t *testing.T) {
	m := New(time.Hour, nil)
	require.False(t, m.TouchSession("nope"))
}
