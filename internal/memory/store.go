// Package memory is the sqlite-backed store behind the save_memory and
// recall_memory tools. Entries survive across sessions.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("memory not found")

// Entry is one stored memory.
type Entry struct {
	ID         string
	Topic      string
	Content    string
	CreatedAt  time.Time
	LastAccess time.Time
}

// Store persists memories in a sqlite database at a fixed path.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the store at path, building the schema if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("memory store path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare memory store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_access TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Save stores a new memory and returns its id.
func (s *Store) Save(topic, content string) (string, error) {
	topic = strings.TrimSpace(topic)
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("content must not be empty")
	}
	id := uuid.NewString()[:8]
	now := time.Now()
	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO memories (id, topic, content, created_at, last_access)
VALUES (?, ?, ?, ?, ?)`, id, topic, content, now, now)
	if err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return id, nil
}

// Recall returns entries whose topic or content matches query, most recently
// touched first, and bumps their last access time.
func (s *Store) Recall(query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	like := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(context.Background(), `
SELECT id, topic, content, created_at, last_access
FROM memories
WHERE topic LIKE ? OR content LIKE ?
ORDER BY last_access DESC
LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Content, &e.CreatedAt, &e.LastAccess); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	for _, e := range entries {
		if _, err := s.db.ExecContext(context.Background(),
			`UPDATE memories SET last_access=? WHERE id=?`, now, e.ID); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// List returns the most recently touched entries.
func (s *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(context.Background(), `
SELECT id, topic, content, created_at, last_access
FROM memories
ORDER BY last_access DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Content, &e.CreatedAt, &e.LastAccess); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes an entry.
func (s *Store) Delete(id string) error {
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM memories WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
