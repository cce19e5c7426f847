package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
)

func TestParseCommand(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{Code: "Q", Name: "quit", Action: permission.ActionAdmin,
		Handler: func(context.Context, *Dependencies, string, *session.State, string) (packets.Result, error) {
			return packets.Result{}, nil
		}})

	pc, ok := ParseCommand(reg, "  q  extra args here  ")
	require.True(t, ok)
	require.Equal(t, "Q", pc.Code)
	require.Equal(t, "extra args here", pc.Args)

	_, ok = ParseCommand(reg, "")
	require.False(t, ok)

	_, ok = ParseCommand(reg, "ZZZ unknown")
	require.False(t, ok)
}

// fakeUsers/fakeRooms ground the processor tests against the store
// interfaces without a real database.
type fakeUsers struct {
	users map[string]*store.User
}

func (f *fakeUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, ok := f.users[username]
	return ok, nil
}
func (f *fakeUsers) Create(ctx context.Context, username, displayName string, hash, salt []byte, status store.UserStatus) error {
	f.users[username] = &store.User{Username: username, DisplayName: displayName, Status: status}
	return nil
}
func (f *fakeUsers) Load(ctx context.Context, username string) (*store.User, error) {
	return f.users[username], nil
}
func (f *fakeUsers) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	return true, nil
}
func (f *fakeUsers) SetPermissionLevel(ctx context.Context, username string, level permission.Level) error {
	f.users[username].PermissionLevel = level
	return nil
}
func (f *fakeUsers) SetStatus(ctx context.Context, username string, status store.UserStatus) error {
	f.users[username].Status = status
	return nil
}
func (f *fakeUsers) SetDisplayName(ctx context.Context, username, displayName string) error {
	f.users[username].DisplayName = displayName
	return nil
}
func (f *fakeUsers) UpdatePassword(ctx context.Context, username string, hash, salt []byte) error {
	return nil
}
func (f *fakeUsers) IsBlocked(ctx context.Context, blocker, blockee string) (bool, error) {
	return false, nil
}
func (f *fakeUsers) Delete(ctx context.Context, username string) error {
	delete(f.users, username)
	return nil
}

type fakeRooms struct{ rooms map[int64]*store.Room }

func (f *fakeRooms) Load(ctx context.Context, id int64) (*store.Room, error) { return f.rooms[id], nil }
func (f *fakeRooms) GetIDByName(ctx context.Context, name string) (int64, error) {
	for id, r := range f.rooms {
		if r.Name == name {
			return id, nil
		}
	}
	return 0, nil
}
func (f *fakeRooms) Create(ctx context.Context, name, desc string, readOnly bool, level permission.Level, after int64) (int64, error) {
	return 0, nil
}
func (f *fakeRooms) PostMessage(ctx context.Context, roomID int64, sender, content, recipient string) (int64, error) {
	return 1, nil
}
func (f *fakeRooms) GetUnreadMessageIDs(ctx context.Context, roomID int64, username string) ([]int64, error) {
	return nil, nil
}
func (f *fakeRooms) HasUnreadMessages(ctx context.Context, roomID int64, username string) (bool, error) {
	return false, nil
}
func (f *fakeRooms) GoToNextRoom(ctx context.Context, from int64, level permission.Level, withUnread bool) (*store.Room, error) {
	return nil, nil
}
func (f *fakeRooms) CanUserRead(ctx context.Context, roomID int64, level permission.Level, username string) (bool, error) {
	return true, nil
}
func (f *fakeRooms) CanUserPost(ctx context.Context, roomID int64, level permission.Level, username string) (bool, error) {
	return true, nil
}

type stubWorkflows struct{}

func (stubWorkflows) Get(kind string) (WorkflowHandler, bool) { return nil, false }

func newTestDeps() (*Dependencies, *session.Manager) {
	users := &fakeUsers{users: map[string]*store.User{
		"alice": {Username: "alice", PermissionLevel: permission.User},
	}}
	rooms := &fakeRooms{rooms: map[int64]*store.Room{
		100: {ID: 100, Name: "Lobby"},
	}}
	reg := NewRegistry()
	mgr := session.New(time.Hour, nil)

	deps := &Dependencies{
		Sessions:  mgr,
		Users:     users,
		Rooms:     rooms,
		Registry:  reg,
		Workflows: stubWorkflows{},
	}
	return deps, mgr
}

func TestProcess_InvalidSession(t *testing.T) {
	deps, _ := newTestDeps()
	p := NewProcessor(deps)
	result := p.Process(context.Background(), packets.FromUser{SessionID: "nope"})
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "invalid_session", result.ToUser[0].ErrorCode)
}

func TestProcess_UnknownCommand(t *testing.T) {
	deps, mgr := newTestDeps()
	p := NewProcessor(deps)
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.SetCurrentRoom(id, 100)

	result := p.Process(context.Background(), packets.FromUser{
		SessionID: id, PayloadType: packets.PayloadCommand,
		Command: &packets.ParsedCommand{Code: "ZZ"},
	})
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "unknown_command", result.ToUser[0].ErrorCode)
}

func TestProcess_PermissionDenied(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Registry.Register(Descriptor{
		Code: "V", Name: "validate_users", Action: permission.ActionValidateUsers,
		Handler: func(context.Context, *Dependencies, string, *session.State, string) (packets.Result, error) {
			return packets.Result{ToUser: []packets.ToUser{{Text: "ok"}}}, nil
		},
	})
	p := NewProcessor(deps)
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice") // USER level, validate_users needs AIDE
	mgr.SetCurrentRoom(id, 100)

	result := p.Process(context.Background(), packets.FromUser{
		SessionID: id, PayloadType: packets.PayloadCommand,
		Command: &packets.ParsedCommand{Code: "V"},
	})
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "permission_denied", result.ToUser[0].ErrorCode)
}

func TestProcess_SuccessfulDispatch(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Registry.Register(Descriptor{
		Code: "G", Name: "goto", Action: permission.ActionReadMessages,
		Handler: func(ctx context.Context, d *Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
			return packets.Result{ToUser: []packets.ToUser{{Text: "moved to " + args}}}, nil
		},
	})
	p := NewProcessor(deps)
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.SetCurrentRoom(id, 100)

	result := p.Process(context.Background(), packets.FromUser{
		SessionID: id, PayloadType: packets.PayloadCommand,
		Command: &packets.ParsedCommand{Code: "G", Args: "Lobby"},
	})
	require.False(t, result.ToUser[0].IsError)
	require.Equal(t, "moved to Lobby", result.ToUser[0].Text)
}

func TestProcess_WorkflowDelegation(t *testing.T) {
	deps, mgr := newTestDeps()
	p := NewProcessor(deps)
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.SetWorkflow(id, &session.WorkflowState{Kind: "login"})

	result := p.Process(context.Background(), packets.FromUser{SessionID: id, RawText: "alice"})
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "unknown_workflow", result.ToUser[0].ErrorCode)
}
