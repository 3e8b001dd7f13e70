// Package filestore implements the flat-file state of the bot: the history
// file (one "key|timestamp" line per action), the read-only reposted id list
// and the firehose cursor file.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
	"github.com/blackmichael/fuwamoko-bot/internal/history"
)

const (
	// DefaultLockTimeout bounds how long a writer waits for the lock.
	DefaultLockTimeout = 10 * time.Second

	lockRetryDelay = 50 * time.Millisecond
)

// ErrLockTimeout is returned when the advisory lock could not be taken in
// time. It wraps history.ErrWriteSkipped.
var ErrLockTimeout = fmt.Errorf("history lock timeout: %w", history.ErrWriteSkipped)

// HistoryFile implements domain.HistoryRepository on a text file shared by
// every bot process on the host. Writers serialize on an advisory lock file
// next to it.
type HistoryFile struct {
	path        string
	lockPath    string
	backupPath  string
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ domain.HistoryRepository = (*HistoryFile)(nil)

// NewHistoryFile creates the history file (and its directory) if it does not
// exist yet.
func NewHistoryFile(path string, lockTimeout time.Duration, logger *slog.Logger) (*HistoryFile, error) {
	if path == "" {
		return nil, errors.New("history file path is required")
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create history file: %w", err)
	}
	f.Close()

	return &HistoryFile{
		path:        path,
		lockPath:    path + ".lock",
		backupPath:  path + ".bak",
		lockTimeout: lockTimeout,
		logger:      logger,
	}, nil
}

// Path returns the history file path.
func (h *HistoryFile) Path() string {
	return h.path
}

// Load validates the file, repairs it if any line is malformed, and returns the
// parsed entries. When the lock cannot be taken the repair is skipped and bad
// lines are ignored on read.
func (h *HistoryFile) Load(ctx context.Context) (map[string]time.Time, error) {
	unlock, err := h.lock(ctx)
	switch {
	case errors.Is(err, ErrLockTimeout):
		h.logger.Warn("history lock busy, loading without repair", "path", h.path)
	case err != nil:
		return nil, err
	default:
		defer unlock()
		if err := h.repairIfNeeded(); err != nil {
			h.logger.Error("history repair failed", "path", h.path, "error", err)
		}
	}

	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	entries := make(map[string]time.Time)
	for n, line := range splitLines(data) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, ts, err := ParseLine(line)
		if err != nil {
			h.logger.Warn("skipping corrupted history line", "path", h.path, "line", n+1, "error", err)
			continue
		}
		entries[key] = ts
	}
	return entries, nil
}

// Append writes one line under the lock, after copying the current file to the
// backup path. A lock timeout returns ErrLockTimeout without writing.
func (h *HistoryFile) Append(ctx context.Context, key string, ts time.Time) error {
	if strings.ContainsAny(key, "|\n") {
		return fmt.Errorf("invalid history key %q", key)
	}

	unlock, err := h.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := h.backup(); err != nil {
		h.logger.Warn("history backup failed", "path", h.backupPath, "error", err)
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(key, ts)); err != nil {
		return fmt.Errorf("append history line: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync history file: %w", err)
	}
	return nil
}

// Close is a no-op; the file is opened per operation.
func (h *HistoryFile) Close() error {
	return nil
}

func (h *HistoryFile) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, h.lockTimeout)
	defer cancel()

	fl := flock.New(h.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			h.logger.Warn("failed to release history lock", "path", h.lockPath, "error", err)
		}
	}, nil
}

// repairIfNeeded rewrites the file with only its valid lines when validation
// finds a malformed one. Dropped lines are logged, not merged.
func (h *HistoryFile) repairIfNeeded() error {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history file: %w", err)
	}

	var (
		valid   bytes.Buffer
		dropped int
	)
	for _, line := range splitLines(data) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, _, err := ParseLine(line); err != nil {
			dropped++
			continue
		}
		valid.WriteString(strings.TrimSpace(line))
		valid.WriteByte('\n')
	}
	if dropped == 0 {
		return nil
	}

	if err := writeFileAtomic(h.path, valid.Bytes()); err != nil {
		return fmt.Errorf("rewrite history file: %w", err)
	}
	h.logger.Warn("repaired history file", "path", h.path, "dropped_lines", dropped)
	return nil
}

func (h *HistoryFile) backup() error {
	src, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(h.backupPath, data)
}

// FormatLine renders one history line including the trailing newline.
func FormatLine(key string, ts time.Time) string {
	return key + "|" + ts.UTC().Format(time.RFC3339Nano) + "\n"
}

// timestampLayouts accepts RFC 3339 and the offset-less form some writers
// produce; the latter is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseLine parses a "key|ISO-8601-timestamp" history line.
func ParseLine(line string) (string, time.Time, error) {
	key, raw, ok := strings.Cut(strings.TrimSpace(line), "|")
	if !ok {
		return "", time.Time{}, errors.New("missing separator")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", time.Time{}, errors.New("empty key")
	}

	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return key, ts.UTC(), nil
		}
	}
	return "", time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// splitLines splits on newlines without a line length limit, so one oversized
// line cannot hide the lines after it.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(bytes.TrimSuffix(p, []byte("\r")))
	}
	return lines
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
