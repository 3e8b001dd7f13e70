package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	repo, err := NewRepository(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestRepository_History(t *testing.T) {
	ctx := context.Background()
	repo, path := newTestRepository(t)
	ts := time.Date(2025, 6, 1, 21, 0, 0, 0, time.FixedZone("JST", 9*3600))

	entries, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, repo.Append(ctx, "at://did:plc:a/app.bsky.feed.post/1", ts))
	require.NoError(t, repo.Append(ctx, "at://did:plc:a/app.bsky.feed.post/2", ts))
	require.NoError(t, repo.Append(ctx, "at://did:plc:a/app.bsky.feed.post/1", ts.Add(time.Hour)))

	entries, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, ts.Add(time.Hour).Equal(entries["at://did:plc:a/app.bsky.feed.post/1"]))

	// A second handle on the same file sees the writes.
	require.NoError(t, repo.Close())
	reopened, err := NewRepository(path, time.Second)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRepository_Cursor(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	cursor, err := repo.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Zero(t, cursor)

	require.NoError(t, repo.UpdateCursor(ctx, "jetstream", 100))
	require.NoError(t, repo.UpdateCursor(ctx, "jetstream", 200))

	cursor, err = repo.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Equal(t, int64(200), cursor)
}
