package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/dedupe"
	"github.com/taedryn/mesh-citadel/internal/nodeauth"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
)

type fakeUsers struct{ users map[string]*store.User }

func (f *fakeUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, ok := f.users[username]
	return ok, nil
}
func (f *fakeUsers) Create(ctx context.Context, username, displayName string, hash, salt []byte, status store.UserStatus) error {
	return nil
}
func (f *fakeUsers) Load(ctx context.Context, username string) (*store.User, error) {
	return f.users[username], nil
}
func (f *fakeUsers) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	return true, nil
}
func (f *fakeUsers) SetPermissionLevel(ctx context.Context, username string, level permission.Level) error {
	return nil
}
func (f *fakeUsers) SetStatus(ctx context.Context, username string, status store.UserStatus) error {
	return nil
}
func (f *fakeUsers) SetDisplayName(ctx context.Context, username, displayName string) error {
	return nil
}
func (f *fakeUsers) UpdatePassword(ctx context.Context, username string, hash, salt []byte) error {
	return nil
}
func (f *fakeUsers) IsBlocked(ctx context.Context, blocker, blockee string) (bool, error) {
	return false, nil
}
func (f *fakeUsers) Delete(ctx context.Context, username string) error { return nil }

type fakeRooms struct{ rooms map[int64]*store.Room }

func (f *fakeRooms) Load(ctx context.Context, id int64) (*store.Room, error) { return f.rooms[id], nil }
func (f *fakeRooms) GetIDByName(ctx context.Context, name string) (int64, error) {
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

type fakeDB struct{ rows map[string][][]any }

func (f *fakeDB) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	return f.rows[query], nil
}

type noWorkflows struct{}

func (noWorkflows) Get(kind string) (command.WorkflowHandler, bool) { return nil, false }

type routerFixture struct {
	router       *Router
	users        *fakeUsers
	sessions     *session.Manager
	db           *fakeDB
	sent         []string
	disconnected int
}

func newTestRouter() *routerFixture {
	db := &fakeDB{rows: map[string][][]any{}}
	users := &fakeUsers{users: map[string]*store.User{
		"alice": {Username: "alice", PermissionLevel: permission.User},
	}}
	rooms := &fakeRooms{rooms: map[int64]*store.Room{100: {ID: 100, Name: "Lobby"}}}
	sessions := session.New(time.Hour, nil)
	na := nodeauth.New(db, 14*24*time.Hour)
	dd := dedupe.New(10 * time.Second)
	reg := command.NewRegistry()
	reg.Register(command.Descriptor{
		Code: "H", Name: "help", Action: permission.ActionReadMessages,
		Handler: func(context.Context, *command.Dependencies, string, *session.State, string) (packets.Result, error) {
			return packets.Result{ToUser: []packets.ToUser{{Text: "help text"}}}, nil
		},
	})

	deps := &command.Dependencies{
		Sessions: sessions, Users: users, Rooms: rooms, DB: db, Registry: reg,
		Workflows: noWorkflows{},
	}
	proc := command.NewProcessor(deps)

	fx := &routerFixture{users: users, sessions: sessions, db: db}
	fx.router = &Router{
		DB: db, Users: users, Rooms: rooms, Sessions: sessions, NodeAuth: na, Dedupe: dd,
		Registry: reg, Processor: proc,
		SendToNode: func(ctx context.Context, nodeID, username, text string) bool {
			fx.sent = append(fx.sent, text)
			return true
		},
		Disconnect: func(sessionID string) { fx.disconnected++ },
	}
	return fx
}

func TestHandleMessage_NoCacheStartsLogin(t *testing.T) {
	fx := newTestRouter()
	started := false
	fx.router.StartLogin = func(ctx context.Context, sessionID, nodeID string) (packets.Result, error) {
		started = true
		fx.sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "login", Step: 2})
		return packets.Result{ToUser: []packets.ToUser{{Text: "Enter your username:"}}}, nil
	}

	fx.router.HandleMessage(context.Background(), "node1", "hello")
	require.True(t, started)
	require.Len(t, fx.sent, 1)
	require.Equal(t, "Enter your username:", fx.sent[0])
}

func TestHandleMessage_DuplicateIsSkipped(t *testing.T) {
	fx := newTestRouter()
	calls := 0
	fx.router.StartLogin = func(ctx context.Context, sessionID, nodeID string) (packets.Result, error) {
		calls++
		return packets.Result{}, nil
	}

	fx.router.HandleMessage(context.Background(), "node1", "hello")
	fx.router.HandleMessage(context.Background(), "node1", "hello")

	_, ok := fx.sessions.GetSessionByNodeID("node1")
	require.True(t, ok)
	require.Equal(t, 1, calls)
}

func seedPasswordCache(db *fakeDB, nodeID, username string) {
	db.rows["SELECT last_pw_use, username FROM mc_passwd_cache WHERE node_id = ?"] =
		[][]any{{time.Now().UTC().Format("2006-01-02 15:04:05"), username}}
}

func TestHandleMessage_CachedUserDispatchesCommand(t *testing.T) {
	fx := newTestRouter()
	ctx := context.Background()
	sessionID := fx.sessions.CreateSession(ctx, "node1")
	fx.sessions.SetCurrentRoom(sessionID, 100)
	seedPasswordCache(fx.db, "node1", "alice")

	fx.router.HandleMessage(ctx, "node1", "H")
	require.Len(t, fx.sent, 1)
	require.Contains(t, fx.sent[0], "help text")
	require.True(t, fx.sessions.GetSessionState(sessionID).LoggedIn)
}

func TestHandleMessage_WorkflowResponseSkipsParsing(t *testing.T) {
	fx := newTestRouter()
	ctx := context.Background()
	sessionID := fx.sessions.CreateSession(ctx, "node1")
	fx.sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "login", Step: 1})
	seedPasswordCache(fx.db, "node1", "alice")

	fx.router.HandleMessage(ctx, "node1", "alice")
	require.Len(t, fx.sent, 1)
	require.Contains(t, fx.sent[0], "Unknown workflow")
}
