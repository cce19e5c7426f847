package builtin

import (
	"context"
	"time"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

type fakeUsers struct {
	users map[string]*store.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[string]*store.User{}} }

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
	return password == "correct-password", nil
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

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: map[int64]*store.Room{
		store.MailRoomID: {ID: store.MailRoomID, Name: "Mail"},
		100:              {ID: 100, Name: "Lobby"},
	}}
}

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
	id := int64(len(f.rooms) + 100)
	f.rooms[id] = &store.Room{ID: id, Name: name, Description: desc, ReadOnly: readOnly, PermissionLevel: level}
	return id, nil
}
func (f *fakeRooms) PostMessage(ctx context.Context, roomID int64, sender, content, recipient string) (int64, error) {
	return 42, nil
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

type fakeHasher struct{}

func (fakeHasher) Hash(password string, salt []byte) []byte       { return []byte("hash:" + password) }
func (fakeHasher) GenerateSalt() ([]byte, error)                   { return []byte("salt"), nil }
func (fakeHasher) Verify(password string, salt, hash []byte) bool { return true }

type fakeDB struct {
	rows map[string][][]any
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string][][]any{}} }

func (f *fakeDB) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	return f.rows[query], nil
}

func newTestDeps() (*command.Dependencies, *session.Manager) {
	users := newFakeUsers()
	rooms := newFakeRooms()
	mgr := session.New(time.Hour, nil)
	reg := workflow.NewRegistry()

	deps := &command.Dependencies{
		Sessions:  mgr,
		Users:     users,
		Rooms:     rooms,
		Hasher:    fakeHasher{},
		DB:        newFakeDB(),
		Registry:  command.NewRegistry(),
		Workflows: reg,
	}
	return deps, mgr
}
