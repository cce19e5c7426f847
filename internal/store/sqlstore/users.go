package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// levelToString/stringToLevel round-trip permission.Level through the
// lowercase strings the users.permission column stores.
func levelToString(l permission.Level) string {
	switch l {
	case permission.Unverified:
		return "unverified"
	case permission.Twit:
		return "twit"
	case permission.User:
		return "user"
	case permission.Aide:
		return "aide"
	case permission.Sysop:
		return "sysop"
	default:
		return "unverified"
	}
}

func stringToLevel(s string) permission.Level {
	switch s {
	case "twit":
		return permission.Twit
	case "user":
		return permission.User
	case "aide":
		return permission.Aide
	case "sysop":
		return permission.Sysop
	default:
		return permission.Unverified
	}
}

// Users implements store.Users against the users table.
type Users struct {
	db     *sql.DB
	hasher store.PasswordHasher
}

func (u *Users) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := u.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (u *Users) Create(ctx context.Context, username, displayName string, passwordHash, salt []byte, status store.UserStatus) error {
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, salt, display_name, permission, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		username, passwordHash, salt, displayName, levelToString(permission.Unverified), string(status))
	if err != nil {
		return fmt.Errorf("sqlstore: creating user %s: %w", username, err)
	}
	return nil
}

func (u *Users) Load(ctx context.Context, username string) (*store.User, error) {
	var rec store.User
	var level, status string
	err := u.db.QueryRowContext(ctx,
		"SELECT username, display_name, permission, status FROM users WHERE username = ?", username).
		Scan(&rec.Username, &rec.DisplayName, &level, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading user %s: %w", username, err)
	}
	rec.PermissionLevel = stringToLevel(level)
	rec.Status = store.UserStatus(status)
	return &rec, nil
}

func (u *Users) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	hash, salt, err := u.passwordHashAndSalt(ctx, username)
	if err != nil {
		return false, err
	}
	if hash == nil {
		return false, nil
	}
	return u.hasher.Verify(password, salt, hash), nil
}

func (u *Users) SetPermissionLevel(ctx context.Context, username string, level permission.Level) error {
	_, err := u.db.ExecContext(ctx, "UPDATE users SET permission = ? WHERE username = ?", levelToString(level), username)
	return err
}

func (u *Users) SetStatus(ctx context.Context, username string, status store.UserStatus) error {
	_, err := u.db.ExecContext(ctx, "UPDATE users SET status = ? WHERE username = ?", string(status), username)
	return err
}

func (u *Users) SetDisplayName(ctx context.Context, username, displayName string) error {
	_, err := u.db.ExecContext(ctx, "UPDATE users SET display_name = ? WHERE username = ?", displayName, username)
	return err
}

func (u *Users) UpdatePassword(ctx context.Context, username string, passwordHash, salt []byte) error {
	_, err := u.db.ExecContext(ctx, "UPDATE users SET password_hash = ?, salt = ? WHERE username = ?", passwordHash, salt, username)
	return err
}

func (u *Users) passwordHashAndSalt(ctx context.Context, username string) (hash, salt []byte, err error) {
	err = u.db.QueryRowContext(ctx, "SELECT password_hash, salt FROM users WHERE username = ?", username).Scan(&hash, &salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	return hash, salt, err
}

func (u *Users) IsBlocked(ctx context.Context, blocker, blockee string) (bool, error) {
	return isBlocked(ctx, u.db, blocker, blockee)
}

func isBlocked(ctx context.Context, db *sql.DB, blocker, blockee string) (bool, error) {
	var dummy int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM user_blocks WHERE blocker = ? AND blocked = ?", blocker, blockee).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (u *Users) Delete(ctx context.Context, username string) error {
	_, err := u.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	return err
}
