package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

type fakeUsers struct {
	users map[string]*store.User
	blocks map[string]map[string]bool
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
	return f.blocks[blocker][blockee], nil
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

type fakeMessages struct {
	messages map[int64]*store.Message
}

func (f *fakeMessages) GetMessage(ctx context.Context, id int64, recipientUser string) (*store.Message, error) {
	return f.messages[id], nil
}
func (f *fakeMessages) DeleteMessage(ctx context.Context, id int64) error {
	delete(f.messages, id)
	return nil
}
func (f *fakeMessages) GetMessages(ctx context.Context, ids []int64) ([]*store.Message, error) {
	var out []*store.Message
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeMessages) GetMessageSummary(ctx context.Context, id int64) (string, error) {
	m, ok := f.messages[id]
	if !ok {
		return "", nil
	}
	return m.Content, nil
}

// fakeDB backs the raw-SQL tables (room_ignores, room_messages,
// user_room_state, user_blocks, rooms) with an in-memory row set, enough to
// exercise the handlers that fall back to deps.DB.Execute.
type fakeDB struct {
	ignores map[string]map[int64]bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{ignores: map[string]map[int64]bool{}}
}

func (f *fakeDB) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	switch {
	case contains(query, "SELECT 1 FROM room_ignores"):
		username, _ := args[0].(string)
		roomID, _ := args[1].(int64)
		if f.ignores[username][roomID] {
			return [][]any{{int64(1)}}, nil
		}
		return nil, nil
	case contains(query, "INSERT OR IGNORE INTO room_ignores"):
		username, _ := args[0].(string)
		roomID, _ := args[1].(int64)
		if f.ignores[username] == nil {
			f.ignores[username] = map[int64]bool{}
		}
		f.ignores[username][roomID] = true
		return nil, nil
	case contains(query, "DELETE FROM room_ignores"):
		username, _ := args[0].(string)
		roomID, _ := args[1].(int64)
		delete(f.ignores[username], roomID)
		return nil, nil
	case contains(query, "SELECT id, name FROM rooms"):
		return nil, nil
	default:
		return nil, nil
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

type fakeWorkflow struct{ kind string }

func (f fakeWorkflow) Kind() string { return f.kind }
func (f fakeWorkflow) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	return packets.Result{ToUser: []packets.ToUser{{SessionID: sessionID, Text: "started " + f.kind}}}, nil
}
func (f fakeWorkflow) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, raw string) (packets.Result, error) {
	return packets.Result{}, nil
}
func (f fakeWorkflow) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}

func newTestDeps() (*command.Dependencies, *session.Manager) {
	users := &fakeUsers{
		users:  map[string]*store.User{"alice": {Username: "alice", PermissionLevel: permission.User}},
		blocks: map[string]map[string]bool{},
	}
	rooms := &fakeRooms{rooms: map[int64]*store.Room{
		100: {ID: 100, Name: "Lobby"},
	}}
	messages := &fakeMessages{messages: map[int64]*store.Message{
		1: {ID: 1, Sender: "bob", DisplayName: "Bob", Content: "hello"},
	}}

	wfReg := workflow.NewRegistry()
	wfReg.Register(fakeWorkflow{kind: "enter_message"})
	wfReg.Register(fakeWorkflow{kind: "create_room"})
	wfReg.Register(fakeWorkflow{kind: "edit_user"})
	wfReg.Register(fakeWorkflow{kind: "validate_users"})

	reg := command.NewRegistry()
	RegisterAll(reg)
	mgr := session.New(time.Hour, nil)

	deps := &command.Dependencies{
		Sessions:  mgr,
		Users:     users,
		Rooms:     rooms,
		Messages:  messages,
		DB:        newFakeDB(),
		Registry:  reg,
		Workflows: wfReg,
	}
	return deps, mgr
}

func TestEnterMessage_StartsWorkflow(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.SetCurrentRoom(id, 100)
	state := mgr.GetSessionState(id)

	result, err := enterMessage(context.Background(), deps, id, state, "")
	require.NoError(t, err)
	require.Equal(t, "started enter_message", result.ToUser[0].Text)
	require.NotNil(t, state.Workflow)
	require.Equal(t, "enter_message", state.Workflow.Kind)
}

func TestReadMessages_SpecificID(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.SetCurrentRoom(id, 100)
	state := mgr.GetSessionState(id)

	result, err := readMessages(context.Background(), deps, id, state, "1")
	require.NoError(t, err)
	require.NotNil(t, result.ToUser[0].Message)
	require.Equal(t, "hello", result.ToUser[0].Message.Content)
}

func TestReadMessages_NotFound(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := readMessages(context.Background(), deps, id, state, "999")
	require.NoError(t, err)
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "invalid_command", result.ToUser[0].ErrorCode)
}

func TestChangeRoom_NotFound(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := changeRoom(context.Background(), deps, id, state, "Nowhere")
	require.NoError(t, err)
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "no_next_room", result.ToUser[0].ErrorCode)
}

func TestChangeRoom_Found(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := changeRoom(context.Background(), deps, id, state, "Lobby")
	require.NoError(t, err)
	require.False(t, result.ToUser[0].IsError)
	require.Equal(t, int64(100), state.CurrentRoom)
}

func TestIgnoreRoom_TogglesOnAndOff(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.SetCurrentRoom(id, 100)
	state := mgr.GetSessionState(id)

	result, err := ignoreRoom(context.Background(), deps, id, state, "")
	require.NoError(t, err)
	require.Contains(t, result.ToUser[0].Text, "ignored")

	result, err = ignoreRoom(context.Background(), deps, id, state, "")
	require.NoError(t, err)
	require.Contains(t, result.ToUser[0].Text, "un-ignored")
}

func TestDeleteMessage_OwnMessageAllowed(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Messages.(*fakeMessages).messages[2] = &store.Message{ID: 2, Sender: "alice", Content: "mine"}
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := deleteMessage(context.Background(), deps, id, state, "2")
	require.NoError(t, err)
	require.False(t, result.ToUser[0].IsError)
}

func TestDeleteMessage_OthersMessageDeniedForUser(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := deleteMessage(context.Background(), deps, id, state, "1")
	require.NoError(t, err)
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "permission_denied", result.ToUser[0].ErrorCode)
}

func TestDeleteMessage_OthersMessageAllowedForAide(t *testing.T) {
	deps, mgr := newTestDeps()
	deps.Users.(*fakeUsers).users["alice"].PermissionLevel = permission.Aide
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := deleteMessage(context.Background(), deps, id, state, "1")
	require.NoError(t, err)
	require.False(t, result.ToUser[0].IsError)
}

func TestBlockUser_SelfBlockRejected(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	result, err := blockUser(context.Background(), deps, id, state, "alice")
	require.NoError(t, err)
	require.True(t, result.ToUser[0].IsError)
	require.Equal(t, "invalid_recipient", result.ToUser[0].ErrorCode)
}

func TestQuit_ExpiresSession(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	state := mgr.GetSessionState(id)

	_, err := quit(context.Background(), deps, id, state, "")
	require.NoError(t, err)
	require.False(t, mgr.ValidateSession(id))
}

func TestWho_ListsLoggedInUsers(t *testing.T) {
	deps, mgr := newTestDeps()
	id := mgr.CreateSession(context.Background(), "node1")
	mgr.MarkUsername(id, "alice")
	mgr.MarkLoggedIn(id, true)
	state := mgr.GetSessionState(id)

	result, err := who(context.Background(), deps, id, state, "")
	require.NoError(t, err)
	require.Contains(t, result.ToUser[0].Text, "alice")
}

func TestRegisterAll_PopulatesRegistry(t *testing.T) {
	reg := command.NewRegistry()
	RegisterAll(reg)
	for _, code := range []string{"G", "E", "R", "N", "K", "I", "Q", "CANCEL", "S", "C", "H", "?", "M", "W", "D", "B", "V", ".C", ".ER", ".EU", ".FF"} {
		_, ok := reg.Get(code)
		require.True(t, ok, "expected %s to be registered", code)
	}
}
