// Package store declares the interfaces the core consumes from the SQL
// persistence layer, the user/room/message services, and the password
// hashing primitive. The core never touches SQL directly and never hashes
// a password itself.
package store

import (
	"context"
	"time"

	"github.com/taedryn/mesh-citadel/internal/permission"
)

// DB is the key/row store the rest of the core depends on: writes commit
// immediately, reads return nil rows on no match rather than an error.
type DB interface {
	Execute(ctx context.Context, query string, args ...any) ([][]any, error)
}

// UserStatus is a user account's verification state.
type UserStatus string

const (
	StatusProvisional UserStatus = "provisional"
	StatusActive       UserStatus = "active"
	StatusUnverified   UserStatus = "unverified"
)

// User is the account record this core needs.
type User struct {
	Username        string
	DisplayName     string
	PermissionLevel permission.Level
	Status          UserStatus
}

// Users is the user service collaborator.
type Users interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username, displayName string, passwordHash, salt []byte, status UserStatus) error
	Load(ctx context.Context, username string) (*User, error)
	VerifyPassword(ctx context.Context, username, password string) (bool, error)
	SetPermissionLevel(ctx context.Context, username string, level permission.Level) error
	SetStatus(ctx context.Context, username string, status UserStatus) error
	SetDisplayName(ctx context.Context, username, displayName string) error
	UpdatePassword(ctx context.Context, username string, passwordHash, salt []byte) error
	IsBlocked(ctx context.Context, blocker, blockee string) (bool, error)
	Delete(ctx context.Context, username string) error
}

// Room is the room record this core needs.
type Room struct {
	ID              int64
	Name            string
	Description     string
	ReadOnly        bool
	PermissionLevel permission.Level
	NextID          int64
	PrevID          int64
}

const (
	// TwitRoomID is the designated Twit room.
	TwitRoomID int64 = 1
	// MailRoomID is the designated Mail room referenced by enter_message
	// and prompt-insertion notifications.
	MailRoomID int64 = 2
	// MinUserRoomID is the first id available for user-created rooms.
	MinUserRoomID int64 = 100
)

// Rooms is the room service collaborator.
type Rooms interface {
	Load(ctx context.Context, roomID int64) (*Room, error)
	GetIDByName(ctx context.Context, name string) (int64, error)
	Create(ctx context.Context, name, description string, readOnly bool, level permission.Level, afterRoomID int64) (int64, error)
	PostMessage(ctx context.Context, roomID int64, sender, content, recipient string) (int64, error)
	GetUnreadMessageIDs(ctx context.Context, roomID int64, username string) ([]int64, error)
	HasUnreadMessages(ctx context.Context, roomID int64, username string) (bool, error)
	GoToNextRoom(ctx context.Context, fromRoomID int64, userLevel permission.Level, withUnread bool) (*Room, error)
	CanUserRead(ctx context.Context, roomID int64, userLevel permission.Level, username string) (bool, error)
	CanUserPost(ctx context.Context, roomID int64, userLevel permission.Level, username string) (bool, error)
}

// Message is the message row this core needs to format a ToUser.
type Message struct {
	ID          int64
	Sender      string
	DisplayName string
	Timestamp   time.Time
	Recipient   string
	Blocked     bool
	Content     string
}

// Messages is the message service collaborator.
type Messages interface {
	GetMessage(ctx context.Context, id int64, recipientUser string) (*Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	GetMessages(ctx context.Context, ids []int64) ([]*Message, error)
	GetMessageSummary(ctx context.Context, id int64) (string, error)
}

// PasswordHasher is the external PBKDF2-HMAC-SHA256 primitive: 100,000
// iterations, 16-byte salt, 64-byte derived key.
type PasswordHasher interface {
	Hash(password string, salt []byte) []byte
	GenerateSalt() ([]byte, error)
	Verify(password string, salt, hash []byte) bool
}
