// Package sqlite implements the paid message log on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/overlaykit/chathub/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS paid_messages (
	id          TEXT PRIMARY KEY,
	platform    TEXT NOT NULL,
	channel     TEXT NOT NULL DEFAULT '',
	sent_at     INTEGER NOT NULL,
	received_at INTEGER NOT NULL,
	message     TEXT NOT NULL,
	html        TEXT NOT NULL DEFAULT '',
	emojis      TEXT NOT NULL,
	username    TEXT NOT NULL,
	avatar      TEXT NOT NULL,
	amount      REAL NOT NULL,
	currency    TEXT NOT NULL,
	is_verified INTEGER NOT NULL DEFAULT 0,
	is_sub      INTEGER NOT NULL DEFAULT 0,
	is_mod      INTEGER NOT NULL DEFAULT 0,
	is_owner    INTEGER NOT NULL DEFAULT 0,
	is_staff    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_paid_received_at ON paid_messages(received_at DESC);
`

const messageColumns = `id, platform, channel, sent_at, received_at, message, html, emojis,
	username, avatar, amount, currency, is_verified, is_sub, is_mod, is_owner, is_staff`

// Store implements store.PaidMessageStore for SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the paid message database at dbPath and
// applies the schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
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

// Upsert inserts or fully replaces the row for msg.ID.
func (s *Store) Upsert(ctx context.Context, msg chat.Message) error {
	emojis, err := json.Marshal(msg.Emojis)
	if err != nil {
		return fmt.Errorf("serialize emojis: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO paid_messages
		(` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.Platform, msg.Channel, msg.SentAt, msg.ReceivedAt,
		msg.Message, msg.HTML, string(emojis), msg.Username, msg.Avatar,
		msg.Amount, msg.Currency,
		msg.IsVerified, msg.IsSub, msg.IsMod, msg.IsOwner, msg.IsStaff,
	)
	if err != nil {
		return fmt.Errorf("upsert paid message: %w", err)
	}
	return nil
}

// Get retrieves one paid message by id.
func (s *Store) Get(ctx context.Context, id string) (chat.Message, bool, error) {
	query := `SELECT ` + messageColumns + ` FROM paid_messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, false, nil
		}
		return chat.Message{}, false, fmt.Errorf("query paid message: %w", err)
	}
	return msg, true, nil
}

// LoadRecent returns entries received within maxAge of now, oldest first.
func (s *Store) LoadRecent(ctx context.Context, maxAge time.Duration) ([]chat.Message, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	query := `
		SELECT ` + messageColumns + `
		FROM paid_messages
		WHERE received_at >= ?
		ORDER BY received_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent paid messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paid message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Delete removes one paid message by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paid_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete paid message: %w", err)
	}
	return nil
}

// DeleteOlderThan drops entries past the retention age.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()

	res, err := s.db.ExecContext(ctx, `DELETE FROM paid_messages WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup paid messages: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var msg chat.Message
	var emojis string
	err := row.Scan(
		&msg.ID, &msg.Platform, &msg.Channel, &msg.SentAt, &msg.ReceivedAt,
		&msg.Message, &msg.HTML, &emojis, &msg.Username, &msg.Avatar,
		&msg.Amount, &msg.Currency,
		&msg.IsVerified, &msg.IsSub, &msg.IsMod, &msg.IsOwner, &msg.IsStaff,
	)
	if err != nil {
		return chat.Message{}, err
	}
	if err := json.Unmarshal([]byte(emojis), &msg.Emojis); err != nil {
		msg.Emojis = []chat.EmojiSub{}
	}
	return msg, nil
}
