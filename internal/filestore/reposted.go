package filestore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// LoadIDSet reads a file with one opaque id per line into a set. Blank lines
// are ignored and a missing file yields an empty set. Lines that look like
// AT-URIs are also indexed by their normalized form and record key so either
// spelling matches.
func LoadIDSet(path string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}

	for _, line := range splitLines(data) {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
		if strings.HasPrefix(id, "at://") {
			set[domain.NormalizeURI(id)] = struct{}{}
			set[domain.RecordKey(id)] = struct{}{}
		}
	}
	return set, nil
}
