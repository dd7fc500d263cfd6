package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// idCollisionRetries bounds the immediate retries on a duplicate-id insert.
// An id collision is a local accident, not provider instability, so the
// no-retry policy of the session guard does not apply here.
const idCollisionRetries = 3

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	files TEXT,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
`

// SQLiteStore is the local per-device persistence backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and if needed initializes) the local database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "open", Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "open", Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Backend: "sqlite", Op: "open", Err: fmt.Errorf("database ping failed: %w", err)}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &StorageError{Backend: "sqlite", Op: "open", Err: fmt.Errorf("schema init failed: %w", err)}
	}

	return &SQLiteStore{db: db}, nil
}

// SaveChat upserts the chat record.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat *Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "save_chat", Err: err}
	}
	return nil
}

// SaveMessage inserts the message. A duplicate-id collision is retried with
// a freshly generated id; the caller never sees the collision.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	files, err := json.Marshal(msg.Files)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "save_message", Err: err}
	}

	for attempt := 0; attempt <= idCollisionRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, role, content, files, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ChatID, msg.Role, msg.Content, string(files), msg.Timestamp)
		if err == nil {
			return nil
		}
		if !isDuplicateID(err) {
			break
		}
		LogDebug("message id collision on %s, regenerating", msg.ID)
		msg.ID = NewID()
	}

	return &StorageError{Backend: "sqlite", Op: "save_message", Err: err}
}

// LoadChatHistory returns a chat's messages ordered by timestamp.
func (s *SQLiteStore) LoadChatHistory(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, files, timestamp
		FROM messages WHERE chat_id = ? ORDER BY timestamp, id`, chatID)
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var files sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &files, &msg.Timestamp); err != nil {
			return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
		}
		if files.Valid && files.String != "" && files.String != "null" {
			if err := json.Unmarshal([]byte(files.String), &msg.Files); err != nil {
				LogWarn("skipping malformed files payload on message %s: %v", msg.ID, err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
	}

	return messages, nil
}

// LoadAllChats returns all chats in creation order.
func (s *SQLiteStore) LoadAllChats(ctx context.Context) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at FROM chats ORDER BY created_at`)
	if err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
		}
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: "sqlite", Op: "load", Err: err}
	}

	return chats, nil
}

// DeleteChat removes the chat and cascades to its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}
	return nil
}

// DeleteMessagesAfter removes every message stored after the given one,
// supporting the edit flow's history truncation.
func (s *SQLiteStore) DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID).Scan(&ts)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE chat_id = ? AND (timestamp > ? OR (timestamp = ? AND id > ?)) AND id != ?`,
		chatID, ts, ts, messageID, messageID)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "delete", Err: err}
	}
	return nil
}

// UpdateMessageContent rewrites the message's content in place and drops
// its attachments, for the edit flow.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, files = NULL WHERE id = ?`, content, messageID)
	if err != nil {
		return &StorageError{Backend: "sqlite", Op: "save_message", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StorageError{Backend: "sqlite", Op: "save_message",
			Err: fmt.Errorf("message %s not found", messageID)}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isDuplicateID recognizes a primary-key collision from the sqlite driver.
func isDuplicateID(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
