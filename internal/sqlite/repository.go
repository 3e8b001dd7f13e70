// Package sqlite stores history and firehose cursors in an embedded SQLite
// database. The database is opened with a single connection so every write
// goes through one writer, and busy_timeout bounds how long a second process
// waits for the file lock.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	key      TEXT PRIMARY KEY,
	acted_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cursors (
	service      TEXT PRIMARY KEY,
	cursor_value INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
);`

// Repository implements domain.HistoryRepository and domain.CursorRepository
// using SQLite.
type Repository struct {
	db *sql.DB
}

var (
	_ domain.HistoryRepository = (*Repository)(nil)
	_ domain.CursorRepository  = (*Repository)(nil)
)

// NewRepository opens (creating if needed) the database at path and applies
// the schema. lockTimeout becomes the SQLite busy timeout.
func NewRepository(path string, lockTimeout time.Duration) (*Repository, error) {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", lockTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Load returns every history entry.
func (r *Repository) Load(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, acted_at FROM history`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]time.Time)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			// A bad row only costs that key its cooldown.
			continue
		}
		entries[key] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Append upserts one history entry.
func (r *Repository) Append(ctx context.Context, key string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (key, acted_at)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET acted_at = excluded.acted_at`,
		key, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
