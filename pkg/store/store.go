// Package store persists settled conversations to a local SQLite database.
// Only terminal messages are written; streaming placeholders never touch
// disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vango-go/attend/pkg/engine"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	cancelled       INTEGER NOT NULL DEFAULT 0,
	created_at      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

// Open opens (or creates) the database with WAL enabled.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage writes one settled message. Streaming messages are rejected.
func (s *Store) SaveMessage(ctx context.Context, conversationID string, msg engine.Message) error {
	if msg.Streaming {
		return fmt.Errorf("save message %s: still streaming", msg.ID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, conversation_id, role, content, cancelled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, string(msg.Role), msg.Content, boolToInt(msg.Cancelled), timeToUnix(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Messages returns the settled messages of a conversation in creation order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]engine.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, cancelled, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []engine.Message
	for rows.Next() {
		var msg engine.Message
		var role string
		var cancelled int
		var createdAt float64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &cancelled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = engine.Role(role)
		msg.Cancelled = cancelled != 0
		msg.CreatedAt = timeFromUnix(createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Conversations returns the ids of all stored conversations, most recent
// first.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, MAX(created_at) AS last
		FROM messages
		GROUP BY conversation_id
		ORDER BY last DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var last float64
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
