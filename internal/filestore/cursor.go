package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// CursorDir stores one firehose cursor per service as a small text file.
type CursorDir struct {
	dir string
}

var _ domain.CursorRepository = (*CursorDir)(nil)

// NewCursorDir creates a cursor store rooted at dir.
func NewCursorDir(dir string) *CursorDir {
	return &CursorDir{dir: dir}
}

func (c *CursorDir) path(service string) string {
	return filepath.Join(c.dir, service+".cursor")
}

// GetCursor returns 0 when no cursor has been saved.
func (c *CursorDir) GetCursor(_ context.Context, service string) (int64, error) {
	data, err := os.ReadFile(c.path(service))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor: %w", err)
	}
	return cursor, nil
}

// UpdateCursor overwrites the cursor atomically.
func (c *CursorDir) UpdateCursor(_ context.Context, service string, cursor int64) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	if err := writeFileAtomic(c.path(service), []byte(strconv.FormatInt(cursor, 10)+"\n")); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}
