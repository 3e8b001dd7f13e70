package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// Schema creates the tables used by Repository. It is safe to apply more than
// once.
const Schema = `
CREATE TABLE IF NOT EXISTS history (
	key      TEXT PRIMARY KEY,
	acted_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS cursors (
	service      TEXT PRIMARY KEY,
	cursor_value BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);`

// Repository implements domain.HistoryRepository and domain.CursorRepository
// using PostgreSQL.
type Repository struct {
	db *sql.DB
}

var (
	_ domain.HistoryRepository = (*Repository)(nil)
	_ domain.CursorRepository  = (*Repository)(nil)
)

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, applies the schema and returns a new Repository. The caller
// should call Close when the repository is no longer needed.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
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
		var (
			key string
			ts  time.Time
		)
		if err := rows.Scan(&key, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries[key] = ts.UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Append upserts one history entry.
func (r *Repository) Append(ctx context.Context, key string, ts time.Time) error {
	query := `
		INSERT INTO history (key, acted_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET acted_at = $2`

	if _, err := r.db.ExecContext(ctx, query, key, ts.UTC()); err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = $1`, service,
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
		VALUES ($1, $2, $3)
		ON CONFLICT (service) DO UPDATE SET cursor_value = $2, updated_at = $3`,
		service, cursor, time.Now().UTC(),
	)
	return err
}
