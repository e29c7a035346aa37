// Package sqlite persists provider responses between runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/metaenhancer/metaenhancer/internal/network"
)

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	key       TEXT PRIMARY KEY,
	body      TEXT NOT NULL,
	stored_at INTEGER NOT NULL
)`

// Store is a network.ResponseStore backed by a SQLite file.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ network.ResponseStore = (*Store)(nil)

// Open creates or opens the store at path. Entries older than ttl are
// ignored; ttl <= 0 keeps them forever.
func Open(ctx context.Context, path string, ttl time.Duration) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// one writer; readers share the connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		body     string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, stored_at FROM responses WHERE key = ?`, key).Scan(&body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(storedAt, 0)) > s.ttl {
		return "", false, nil
	}
	return body, true, nil
}

func (s *Store) Put(ctx context.Context, key, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, body, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, stored_at = excluded.stored_at`,
		key, body, s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: put: %w", err)
	}
	return nil
}

// Len reports the number of stored responses, expired ones included.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
