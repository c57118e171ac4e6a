// Package store persists chat transcripts in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"airbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.TranscriptStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection keeps SQLite happy under concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		sender      TEXT NOT NULL,
		content     TEXT,
		tag         TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying handle so other components, such as the air
// quality cache, can share the same database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Append(ctx context.Context, msg domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript (id, session_id, sender, content, tag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Sender), msg.Content, msg.Tag, msg.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, sessionID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript WHERE session_id = ? AND id = ?`,
		sessionID, messageID,
	)
	return err
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender, content, tag, created_at
		 FROM transcript WHERE session_id = ?
		 ORDER BY created_at DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var sender string
		var tag sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &tag, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = domain.Sender(sender)
		m.Tag = tag.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
