// Package cache keeps the last successful reads of the clinic API in a local
// SQLite file so charts can still be drawn when the server is unreachable.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store is a key/value snapshot table of JSON payloads.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the cache database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "clinic-cache.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshot (
		key      TEXT PRIMARY KEY,
		payload  BLOB NOT NULL,
		saved_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Put replaces the snapshot stored under key.
func (s *Store) Put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshot(key, payload, saved_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, saved_at=excluded.saved_at`,
		key, data, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Get decodes the snapshot under key into out. found is false when nothing
// has been stored yet.
func (s *Store) Get(ctx context.Context, key string, out interface{}) (savedAt time.Time, found bool, err error) {
	var (
		data []byte
		ms   int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT payload, saved_at FROM snapshot WHERE key = ?`, key).Scan(&data, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

// Delete drops the snapshot under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshot WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
