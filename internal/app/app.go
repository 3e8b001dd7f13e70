// Package app holds the start-up wiring shared by the bot commands: logging,
// storage selection, login and the metrics push.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blackmichael/fuwamoko-bot/internal/bluesky"
	"github.com/blackmichael/fuwamoko-bot/internal/classify"
	"github.com/blackmichael/fuwamoko-bot/internal/config"
	"github.com/blackmichael/fuwamoko-bot/internal/domain"
	"github.com/blackmichael/fuwamoko-bot/internal/filestore"
	"github.com/blackmichael/fuwamoko-bot/internal/llm"
	"github.com/blackmichael/fuwamoko-bot/internal/metrics"
	"github.com/blackmichael/fuwamoko-bot/internal/postgres"
	"github.com/blackmichael/fuwamoko-bot/internal/redis"
	"github.com/blackmichael/fuwamoko-bot/internal/reply"
	"github.com/blackmichael/fuwamoko-bot/internal/sqlite"
)

// NewLogger returns the JSON stdout logger for one run of command, tagged with
// a fresh run id.
func NewLogger(level slog.Level, command string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	return logger.With("command", command, "run_id", ulid.Make().String())
}

// Storage is the selected history backend and the cursor store that goes with
// it.
type Storage struct {
	History domain.HistoryRepository
	Cursors domain.CursorRepository
}

// Close releases the backend.
func (s *Storage) Close() error {
	return s.History.Close()
}

// OpenStorage opens the history backend named by cfg.HistoryBackend. The SQL
// and Redis backends also store firehose cursors; the file backend keeps them
// in cfg.CursorDir.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	switch cfg.HistoryBackend {
	case config.BackendSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		return &Storage{History: repo, Cursors: repo}, nil

	case config.BackendFile:
		repo, err := filestore.NewHistoryFile(cfg.HistoryFile, cfg.LockTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("open history file: %w", err)
		}
		return &Storage{History: repo, Cursors: filestore.NewCursorDir(cfg.CursorDir)}, nil

	case config.BackendPostgres:
		repo, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres history: %w", err)
		}
		return &Storage{History: repo, Cursors: repo}, nil

	case config.BackendRedis:
		client, err := redis.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis history: %w", err)
		}
		repo := redis.NewRepository(client, redis.DefaultPrefix)
		return &Storage{History: repo, Cursors: repo}, nil
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
}

// Login authenticates the bot account, resuming the saved session if it is
// still valid.
func Login(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bluesky.Client, error) {
	client := bluesky.NewClient(cfg.PDS)
	resumed, err := client.Authenticate(ctx, cfg.Handle, cfg.AppPassword, cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", cfg.Handle, err)
	}
	logger.Info("logged in", "handle", client.Handle(), "did", client.DID(), "resumed_session", resumed)
	return client, nil
}

// NewComposer builds the reply composer. Without an API key it is
// template-only.
func NewComposer(ctx context.Context, cfg *config.Config, tables reply.Tables, logger *slog.Logger) (*reply.Composer, error) {
	var gen reply.Generator
	if cfg.GoogleAPIKey != "" {
		gc := llm.DefaultGeminiConfig()
		gc.APIKey = cfg.GoogleAPIKey
		if cfg.GoogleModel != "" {
			gc.Model = cfg.GoogleModel
		}
		gemini, err := llm.NewGemini(ctx, gc)
		if err != nil {
			return nil, fmt.Errorf("create gemini generator: %w", err)
		}
		logger.Info("reply generation enabled", "model", gemini.Model())
		gen = gemini
	} else {
		logger.Info("GOOGLE_API_KEY not set, replies use templates only")
	}

	composer, err := reply.NewComposer(gen, tables, logger)
	if err != nil {
		return nil, fmt.Errorf("create reply composer: %w", err)
	}
	return composer, nil
}

// ApplyClassifierOverrides copies the non-zero thresholds from the
// environment over the table values.
func ApplyClassifierOverrides(rules *classify.Rules, o config.ClassifierOverrides) {
	if o.TopColors > 0 {
		rules.TopColors = o.TopColors
	}
	if o.SoftMinMatches > 0 {
		rules.SoftMinMatches = o.SoftMinMatches
	}
	if o.SkinThreshold > 0 {
		rules.SkinThreshold = o.SkinThreshold
	}
	if o.SkinOverrideMatches > 0 {
		rules.SkinOverrideMatches = o.SkinOverrideMatches
	}
}

// PushMetrics sends the run's counters when a Pushgateway is configured. A
// failed push is logged, never fatal.
func PushMetrics(cfg *config.Config, m *metrics.Metrics, command string, logger *slog.Logger) {
	m.Completed(time.Now())
	if cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Push(ctx, cfg.PushgatewayURL, command); err != nil {
		logger.Warn("failed to push metrics", "error", err)
	}
}

// IsInterrupted reports whether err is the result of a shutdown signal.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
