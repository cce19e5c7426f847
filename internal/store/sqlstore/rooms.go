package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// Rooms implements store.Rooms against the rooms/room_messages/room_ignores/
// user_room_state tables.
type Rooms struct {
	db *sql.DB
}

func (r *Rooms) Load(ctx context.Context, roomID int64) (*store.Room, error) {
	var rec store.Room
	var level string
	var next, prev sql.NullInt64
	rec.ID = roomID
	err := r.db.QueryRowContext(ctx,
		"SELECT name, description, read_only, permission_level, next_neighbor, prev_neighbor FROM rooms WHERE id = ?",
		roomID).Scan(&rec.Name, &rec.Description, &rec.ReadOnly, &level, &next, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading room %d: %w", roomID, err)
	}
	rec.PermissionLevel = stringToLevel(level)
	rec.NextID = next.Int64
	rec.PrevID = prev.Int64
	return &rec, nil
}

func (r *Rooms) GetIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, "SELECT id FROM rooms WHERE name = ? COLLATE NOCASE", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// Create inserts a new room directly after afterRoomID in the room chain.
func (r *Rooms) Create(ctx context.Context, name, description string, readOnly bool, level permission.Level, afterRoomID int64) (int64, error) {
	after, err := r.Load(ctx, afterRoomID)
	if err != nil {
		return 0, err
	}
	if after == nil {
		return 0, fmt.Errorf("sqlstore: room %d not found", afterRoomID)
	}
	nextID := after.NextID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (name, description, read_only, permission_level, prev_neighbor, next_neighbor)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, description, readOnly, levelToString(level), afterRoomID, nextID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: creating room %s: %w", name, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE rooms SET next_neighbor = ? WHERE id = ?", newID, afterRoomID); err != nil {
		return 0, err
	}
	if nextID != 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE rooms SET prev_neighbor = ? WHERE id = ?", newID, nextID); err != nil {
			return 0, err
		}
	}
	return newID, tx.Commit()
}

func (r *Rooms) PostMessage(ctx context.Context, roomID int64, sender, content, recipient string) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (sender, recipient, content, timestamp) VALUES (?, ?, ?, ?)",
		sender, nullIfEmpty(recipient), content, timestamp)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: posting message: %w", err)
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO room_messages (room_id, message_id, timestamp) VALUES (?, ?, ?)",
		roomID, msgID, timestamp); err != nil {
		return 0, err
	}
	return msgID, tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Rooms) GetUnreadMessageIDs(ctx context.Context, roomID int64, username string) ([]int64, error) {
	ids, err := r.roomMessageIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lastSeen, hasPointer, err := r.lastSeen(ctx, username, roomID)
	if err != nil {
		return nil, err
	}
	if !hasPointer {
		return ids, nil
	}

	for i, id := range ids {
		if id == lastSeen {
			return ids[i+1:], nil
		}
	}
	return nil, nil
}

func (r *Rooms) HasUnreadMessages(ctx context.Context, roomID int64, username string) (bool, error) {
	newest, err := r.newestMessageID(ctx, roomID)
	if err != nil {
		return false, err
	}
	if newest == 0 {
		return false, nil
	}
	lastSeen, hasPointer, err := r.lastSeen(ctx, username, roomID)
	if err != nil {
		return false, err
	}
	return !hasPointer || lastSeen != newest, nil
}

// GoToNextRoom walks the next_neighbor chain starting from fromRoomID,
// skipping rooms the user can't read and, when withUnread, rooms with no
// messages at all. It takes no username, so per-user ignored/already-read
// state can't be checked here — room-level message presence is the closest
// proxy available at this interface boundary.
func (r *Rooms) GoToNextRoom(ctx context.Context, fromRoomID int64, userLevel permission.Level, withUnread bool) (*store.Room, error) {
	room, err := r.Load(ctx, fromRoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, nil
	}

	current := room.NextID
	for current != 0 {
		candidate, err := r.Load(ctx, current)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, nil
		}

		canRead, err := r.CanUserRead(ctx, candidate.ID, userLevel, "")
		if err != nil {
			return nil, err
		}
		if !canRead {
			current = candidate.NextID
			continue
		}

		if withUnread {
			newest, err := r.newestMessageID(ctx, candidate.ID)
			if err != nil {
				return nil, err
			}
			if newest == 0 {
				current = candidate.NextID
				continue
			}
		}

		return candidate, nil
	}
	return nil, nil
}

func (r *Rooms) CanUserRead(ctx context.Context, roomID int64, userLevel permission.Level, username string) (bool, error) {
	room, err := r.Load(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room == nil {
		return false, nil
	}
	if userLevel == permission.Sysop {
		return true, nil
	}
	switch room.PermissionLevel {
	case permission.Aide:
		return userLevel == permission.Aide || userLevel == permission.Sysop, nil
	case permission.Twit:
		return userLevel == permission.Twit, nil
	default:
		return true, nil
	}
}

func (r *Rooms) CanUserPost(ctx context.Context, roomID int64, userLevel permission.Level, username string) (bool, error) {
	room, err := r.Load(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room == nil {
		return false, nil
	}
	if room.ReadOnly {
		return userLevel == permission.Aide || userLevel == permission.Sysop, nil
	}
	return r.CanUserRead(ctx, roomID, userLevel, username)
}

func (r *Rooms) roomMessageIDs(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT message_id FROM room_messages WHERE room_id = ? ORDER BY message_id", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Rooms) newestMessageID(ctx context.Context, roomID int64) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT message_id FROM room_messages WHERE room_id = ? ORDER BY message_id DESC LIMIT 1", roomID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *Rooms) lastSeen(ctx context.Context, username string, roomID int64) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT last_seen_message_id FROM user_room_state WHERE username = ? AND room_id = ?", username, roomID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
