package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	name          TEXT PRIMARY KEY,
	value         TEXT NOT NULL,
	last_modified TEXT NOT NULL
);`

// SQLite is the tabular persistence adapter named in the spec's wire
// layout: one row per object, keyed by name, with the value kept as JSON
// text and the timestamp as ISO-8601 UTC.
type SQLite struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	closed bool
}

// SQLiteConfig configures the tabular store.
type SQLiteConfig struct {
	// Path is the database file; use ":memory:" in tests.
	Path string
	// BusyTimeout bounds how long a write waits on SQLite's lock.
	BusyTimeout time.Duration
}

// OpenSQLite opens (creating if necessary) the objects table at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: creating database directory: %w", err)
			}
		}
	}

	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragma := fmt.Sprintf("PRAGMA busy_timeout = %d;", cfg.BusyTimeout.Milliseconds())
	if _, err := db.Exec(pragma); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy_timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

type objectRow struct {
	Name         string `db:"name"`
	Value        string `db:"value"`
	LastModified string `db:"last_modified"`
}

func (s *SQLite) LoadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var rows []objectRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value, last_modified FROM objects`); err != nil {
		return nil, failure("load-all", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		lastModified, err := time.Parse(time.RFC3339Nano, row.LastModified)
		if err != nil {
			return nil, failure("load-all", fmt.Errorf("parsing last_modified for %q: %w", row.Name, err))
		}
		records = append(records, Record{
			Name:         row.Name,
			Value:        json.RawMessage(row.Value),
			LastModified: lastModified,
		})
	}
	return records, nil
}

func (s *SQLite) Upsert(ctx context.Context, name string, value json.RawMessage, lastModified time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	const q = `
INSERT INTO objects (name, value, last_modified) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, last_modified = excluded.last_modified`

	_, err := s.db.ExecContext(ctx, q, name, string(value), lastModified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return failure("upsert", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE name = ?`, name)
	if err != nil {
		return false, failure("delete", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, failure("delete", err)
	}
	return n > 0, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.closed = true
	return s.db.Close()
}
