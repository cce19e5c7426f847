package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taedryn/mesh-citadel/internal/store"
)

// Messages implements store.Messages against the messages table.
type Messages struct {
	db *sql.DB
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (*store.Message, error) {
	var m store.Message
	var recipient sql.NullString
	var ts string
	if err := row.Scan(&m.ID, &m.Sender, &recipient, &m.Content, &ts); err != nil {
		return nil, err
	}
	m.Recipient = recipient.String
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		m.Timestamp = parsed
	}
	return &m, nil
}

func (ms *Messages) GetMessage(ctx context.Context, id int64, recipientUser string) (*store.Message, error) {
	row := ms.db.QueryRowContext(ctx, "SELECT id, sender, recipient, content, timestamp FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading message %d: %w", id, err)
	}

	// Privacy check: a private message (non-empty recipient) is only
	// visible to its sender or recipient.
	if m.Recipient != "" && recipientUser != "" &&
		m.Sender != recipientUser && m.Recipient != recipientUser {
		return nil, nil
	}

	if err := ms.annotateMessage(ctx, m, recipientUser); err != nil {
		return nil, err
	}
	return m, nil
}

func (ms *Messages) annotateMessage(ctx context.Context, m *store.Message, recipientUser string) error {
	displayName, err := ms.displayName(ctx, m.Sender)
	if err != nil {
		return err
	}
	m.DisplayName = displayName

	if recipientUser == "" {
		return nil
	}
	blocked, err := isBlocked(ctx, ms.db, recipientUser, m.Sender)
	if err != nil {
		return err
	}
	m.Blocked = blocked
	return nil
}

func (ms *Messages) displayName(ctx context.Context, username string) (string, error) {
	var name sql.NullString
	err := ms.db.QueryRowContext(ctx, "SELECT display_name FROM users WHERE username = ?", username).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return username, nil
	}
	if err != nil {
		return "", err
	}
	if name.String == "" {
		return username, nil
	}
	return name.String, nil
}

func (ms *Messages) DeleteMessage(ctx context.Context, id int64) error {
	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM room_messages WHERE message_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (ms *Messages) GetMessages(ctx context.Context, ids []int64) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		"SELECT id, sender, recipient, content, timestamp FROM messages WHERE id IN (%s) ORDER BY timestamp ASC",
		strings.Join(placeholders, ","))

	rows, err := ms.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if err := ms.annotateMessage(ctx, m, ""); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ms *Messages) GetMessageSummary(ctx context.Context, id int64) (string, error) {
	var sender, content, ts string
	err := ms.db.QueryRowContext(ctx, "SELECT sender, content, timestamp FROM messages WHERE id = ?", id).
		Scan(&sender, &content, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	displayName, err := ms.displayName(ctx, sender)
	if err != nil {
		return "", err
	}

	reserved := len(ts) + len(displayName)
	maxLen := 184 - reserved
	if maxLen < 0 {
		maxLen = 0
	}
	if len(content) > maxLen {
		content = content[:maxLen]
	}
	return content, nil
}
