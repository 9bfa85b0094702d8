// Package sqlite provides a session.Store backed by a local SQLite database
// (pure Go driver, no cgo). Messages are stored as versioned JSON envelopes
// ordered by insertion sequence.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/session"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store is a SQLite-backed session.Store.
//
// A single connection is used; SQLite serializes writers anyway and the
// in-memory database only lives as long as its connection.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing db path")
	}

	if p != MemoryDSN {
		p = filepath.Clean(p)
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db, p != MemoryDSN); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// RecordMessage appends msg. A message id already stored for the
// conversation is ignored.
func (s *Store) RecordMessage(ctx context.Context, conversationID string, msg core.Message) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return session.ErrMissingConversation
	}

	body, err := core.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO turn_messages (conversation_id, message_id, role, body, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
`, conversationID, msg.ID, string(msg.Role), string(body), created.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessages returns the most recent limit messages, oldest first. limit <= 0
// returns all of them.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT body FROM (
  SELECT seq, body FROM turn_messages
  WHERE conversation_id = ?
  ORDER BY seq DESC
  LIMIT ?
) ORDER BY seq ASC
`, strings.TrimSpace(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}

		m, err := core.DecodeMessage([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode stored message: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}

// Conversations returns every stored conversation id, most recently active first.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT conversation_id FROM turn_messages
GROUP BY conversation_id
ORDER BY MAX(seq) DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Delete removes every message of a conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turn_messages WHERE conversation_id = ?`, conversationID)
	return err
}

func initSchema(db *sql.DB, wal bool) error {
	if wal {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			return fmt.Errorf("pragma journal_mode: %w", err)
		}
	}

	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS turn_messages (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  conversation_id TEXT NOT NULL,
  message_id TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  body TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_turn_messages_id
  ON turn_messages(conversation_id, message_id) WHERE message_id <> '';
CREATE INDEX IF NOT EXISTS idx_turn_messages_conv_seq
  ON turn_messages(conversation_id, seq);
`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}
