// Package history keeps the record of posts the bot has already acted on and
// answers cooldown queries against it.
package history

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// DefaultCooldown is how long a recorded post stays ineligible.
const DefaultCooldown = 24 * time.Hour

// ErrWriteSkipped marks a write that the repository chose not to perform,
// e.g. because another process held the lock for too long. History treats it
// as a warning, not a failure.
var ErrWriteSkipped = errors.New("history write skipped")

// History is an in-memory cache over a HistoryRepository. It implements
// domain.HistoryStore and never returns errors to its callers: a failed load
// leaves the cache as it was and a failed write only risks one duplicate reply
// after the cooldown of older entries.
type History struct {
	repo     domain.HistoryRepository
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]time.Time
}

var _ domain.HistoryStore = (*History)(nil)

// Option configures a History.
type Option func(*History)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(h *History) { h.cooldown = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New creates a History backed by repo. Call Load before querying it.
func New(repo domain.HistoryRepository, logger *slog.Logger, opts ...Option) *History {
	h := &History{
		repo:     repo,
		cooldown: DefaultCooldown,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load replaces the cache with the repository contents and returns a copy of
// them.
func (h *History) Load(ctx context.Context) map[string]time.Time {
	entries, err := h.repo.Load(ctx)
	if err != nil {
		h.logger.Error("failed to load history", "error", err)
		return h.Snapshot()
	}

	normalized := make(map[string]time.Time, len(entries))
	for k, ts := range entries {
		key := domain.NormalizeURI(k)
		if prev, ok := normalized[key]; !ok || ts.After(prev) {
			normalized[key] = ts
		}
	}

	h.mu.Lock()
	h.entries = normalized
	h.mu.Unlock()

	h.logger.Info("loaded history", "entries", len(normalized))
	return maps.Clone(normalized)
}

// Snapshot returns a copy of the cached entries.
func (h *History) Snapshot() map[string]time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.entries)
}

// ShouldSkip reports whether key was acted on less than one cooldown ago.
func (h *History) ShouldSkip(key string) bool {
	h.mu.RLock()
	ts, ok := h.entries[domain.NormalizeURI(key)]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.now().Sub(ts) < h.cooldown
}

// Record stores key with timestamp ts, then reloads the repository so entries
// written by other processes since the last load are picked up. Cancelling ctx
// does not stop the write: a post handled during shutdown is still recorded.
func (h *History) Record(ctx context.Context, key string, ts time.Time) {
	ctx = context.WithoutCancel(ctx)
	key = domain.NormalizeURI(key)

	if err := h.repo.Append(ctx, key, ts); err != nil {
		if errors.Is(err, ErrWriteSkipped) {
			h.logger.Warn("history write skipped", "key", key, "error", err)
		} else {
			h.logger.Error("failed to record history", "key", key, "error", err)
		}
		return
	}

	h.mu.Lock()
	h.entries[key] = ts
	h.mu.Unlock()

	latest, err := h.repo.Load(ctx)
	if err != nil {
		h.logger.Warn("failed to reload history after write", "key", key, "error", err)
		return
	}

	h.mu.Lock()
	for k, v := range latest {
		k = domain.NormalizeURI(k)
		if prev, ok := h.entries[k]; !ok || v.After(prev) {
			h.entries[k] = v
		}
	}
	h.mu.Unlock()

	h.logger.Debug("recorded history", "key", key, "timestamp", ts)
}
