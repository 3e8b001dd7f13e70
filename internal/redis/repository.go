// Package redis stores history and firehose cursors in Redis. History lives
// in one hash so a full load is a single HGETALL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "fuwamoko:"

// Repository implements domain.HistoryRepository and domain.CursorRepository
// using Redis.
type Repository struct {
	client *goredis.Client
	prefix string
}

var (
	_ domain.HistoryRepository = (*Repository)(nil)
	_ domain.CursorRepository  = (*Repository)(nil)
)

// NewRepository creates a repository on an existing client. An empty prefix
// uses DefaultPrefix.
func NewRepository(client *goredis.Client, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Repository{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Repository) historyKey() string {
	return r.prefix + "history"
}

func (r *Repository) cursorKey(service string) string {
	return r.prefix + "cursor:" + service
}

// Load returns every history entry. Fields with unparsable values are skipped.
func (r *Repository) Load(ctx context.Context) (map[string]time.Time, error) {
	raw, err := r.client.HGetAll(ctx, r.historyKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	entries := make(map[string]time.Time, len(raw))
	for key, v := range raw {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			continue
		}
		entries[key] = ts
	}
	return entries, nil
}

// Append sets one history field.
func (r *Repository) Append(ctx context.Context, key string, ts time.Time) error {
	if err := r.client.HSet(ctx, r.historyKey(), key, ts.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Repository) Close() error {
	return r.client.Close()
}

// GetCursor returns 0 when no cursor has been saved.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	v, err := r.client.Get(ctx, r.cursorKey(service)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor: %w", err)
	}
	return cursor, nil
}

// UpdateCursor stores the cursor without expiry.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	if err := r.client.Set(ctx, r.cursorKey(service), cursor, 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
