package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/store"
)

func TestRegisterUser_FullFlowWithoutTerms(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	reg := RegisterUser{}

	_, err := reg.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	require.NoError(t, err)

	wf := mgr.GetSessionState(id).Workflow
	res, err := reg.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "bob")
	require.NoError(t, err)
	require.NotEmpty(t, res.NewSessionID)
	newID := res.NewSessionID

	user := deps.Users.(*fakeUsers).users["bob"]
	require.NotNil(t, user)
	require.Equal(t, store.StatusProvisional, user.Status)

	wf = mgr.GetSessionState(newID).Workflow
	require.Equal(t, 2, wf.Step)
	res, err = reg.Handle(context.Background(), deps, newID, mgr.GetSessionState(newID), wf, "Bob Smith")
	require.NoError(t, err)
	require.Equal(t, "Bob Smith", deps.Users.(*fakeUsers).users["bob"].DisplayName)

	wf = mgr.GetSessionState(newID).Workflow
	res, err = reg.Handle(context.Background(), deps, newID, mgr.GetSessionState(newID), wf, "longpassword")
	require.NoError(t, err)
	require.Equal(t, 5, mgr.GetSessionState(newID).Workflow.Step)

	wf = mgr.GetSessionState(newID).Workflow
	res, err = reg.Handle(context.Background(), deps, newID, mgr.GetSessionState(newID), wf, "hi there")
	require.NoError(t, err)
	require.Equal(t, 6, mgr.GetSessionState(newID).Workflow.Step)

	wf = mgr.GetSessionState(newID).Workflow
	res, err = reg.Handle(context.Background(), deps, newID, mgr.GetSessionState(newID), wf, "yes")
	require.NoError(t, err)
	require.False(t, res.ToUser[0].IsError)
	require.Nil(t, mgr.GetSessionState(newID).Workflow)
	require.Equal(t, store.StatusActive, deps.Users.(*fakeUsers).users["bob"].Status)
}

func TestRegisterUser_DuplicateUsernameRejected(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Users.(*fakeUsers).users["bob"] = &store.User{Username: "bob"}
	id := mgr.CreateSession(context.Background(), "node1")

	reg := RegisterUser{}
	_, _ = reg.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	wf := mgr.GetSessionState(id).Workflow

	res, err := reg.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "bob")
	require.NoError(t, err)
	require.True(t, res.ToUser[0].IsError)
	require.Equal(t, "username_taken", res.ToUser[0].ErrorCode)
}

func TestRegisterUser_ShortUsernameRejected(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	reg := RegisterUser{}
	_, _ = reg.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	wf := mgr.GetSessionState(id).Workflow

	res, err := reg.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "ab")
	require.NoError(t, err)
	require.True(t, res.ToUser[0].IsError)
	require.Equal(t, "invalid_username", res.ToUser[0].ErrorCode)
}
