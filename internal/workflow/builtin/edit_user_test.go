package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/store"
)

func TestEditUser_SelfEditSkipsTargetPrompt(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Users.(*fakeUsers).users["alice"] = &store.User{Username: "alice", DisplayName: "Alice", PermissionLevel: permission.User}
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")

	eu := EditUser{}
	res, err := eu.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	require.NoError(t, err)
	require.Equal(t, 2, mgr.GetSessionState(id).Workflow.Step)
	require.Contains(t, res.ToUser[0].Text, "Display Name")
	require.NotContains(t, res.ToUser[0].Text, "Permission Level")
}

func TestEditUser_AideCanEditAnotherUser(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Users.(*fakeUsers).users["aide1"] = &store.User{Username: "aide1", PermissionLevel: permission.Aide}
	deps.Users.(*fakeUsers).users["bob"] = &store.User{Username: "bob", DisplayName: "Bob", PermissionLevel: permission.User}
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "aide1")

	eu := EditUser{}
	res, err := eu.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	require.NoError(t, err)
	require.Equal(t, 1, mgr.GetSessionState(id).Workflow.Step)

	wf := mgr.GetSessionState(id).Workflow
	res, err = eu.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, mgr.GetSessionState(id).Workflow.Step)
	require.Contains(t, res.ToUser[0].Text, "Permission Level")

	// Select "Display Name" (option 1) and change it.
	wf = mgr.GetSessionState(id).Workflow
	res, err = eu.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "1")
	require.NoError(t, err)
	require.Equal(t, 3, mgr.GetSessionState(id).Workflow.Step)

	wf = mgr.GetSessionState(id).Workflow
	res, err = eu.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "Bobby")
	require.NoError(t, err)
	require.Equal(t, "Bobby", deps.Users.(*fakeUsers).users["bob"].DisplayName)
	require.Equal(t, 2, mgr.GetSessionState(id).Workflow.Step)
}

func TestEditUser_UnknownTargetRejected(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Users.(*fakeUsers).users["aide1"] = &store.User{Username: "aide1", PermissionLevel: permission.Aide}
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "aide1")

	eu := EditUser{}
	_, _ = eu.Start(context.Background(), deps, id, mgr.GetSessionState(id))
	wf := mgr.GetSessionState(id).Workflow

	res, err := eu.Handle(context.Background(), deps, id, mgr.GetSessionState(id), wf, "ghost")
	require.NoError(t, err)
	require.True(t, res.ToUser[0].IsError)
	require.Equal(t, "user_not_found", res.ToUser[0].ErrorCode)
}
