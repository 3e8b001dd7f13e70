package domain

import (
	"context"
	"image"
	"time"
)

// HistoryRepository persists the post key → last action timestamp mapping.
type HistoryRepository interface {
	// Load returns every stored entry.
	Load(ctx context.Context) (map[string]time.Time, error)

	// Append writes (or overwrites) one entry.
	Append(ctx context.Context, key string, ts time.Time) error

	Close() error
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on the next run.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// HistoryStore is the cooldown view over history that the pipeline uses. It
// never fails: implementations log and swallow their own errors.
type HistoryStore interface {
	ShouldSkip(key string) bool
	Record(ctx context.Context, key string, ts time.Time)
}

// CandidateSource yields the posts to consider in one run.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]Post, error)
}

// FollowGraph answers follow-list queries. Both methods return DIDs.
type FollowGraph interface {
	Follows(ctx context.Context, actor string) ([]string, error)
	Followers(ctx context.Context, actor string) ([]string, error)
}

// ProfileReader fetches actor profiles.
type ProfileReader interface {
	GetProfile(ctx context.Context, actor string) (*Profile, error)
}

// ReplyPoster publishes a reply post.
type ReplyPoster interface {
	CreateReply(ctx context.Context, text string, ref ReplyRef, langs []string) (StrongRef, error)
}

// ImageFetcher resolves an image reference to a decoded image. ok is false when
// no source produced an image, which is a normal outcome.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref ImageRef) (img image.Image, ok bool)
}

// Classifier turns an image and post text into a category.
type Classifier interface {
	Summarize(img image.Image) ImageSummary
	Classify(summary *ImageSummary, text string) Classification
}

// ReplyRequest is what the composer needs to write a reply.
type ReplyRequest struct {
	Text     string
	Category Category
	Lang     string
	Author   string
}

// ReplyComposer produces reply text. It always returns usable text, falling
// back to templates when generation fails.
type ReplyComposer interface {
	Compose(ctx context.Context, req ReplyRequest) string
}

// Metrics receives pipeline counters.
type Metrics interface {
	Candidate()
	Skipped(reason SkipReason)
	Classified(category Category)
	Finished(outcome Outcome)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Candidate()          {}
func (NopMetrics) Skipped(SkipReason)  {}
func (NopMetrics) Classified(Category) {}
func (NopMetrics) Finished(Outcome)    {}
