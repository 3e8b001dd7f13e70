// Package mention answers posts that mention or reply to the bot.
package mention

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
	"github.com/blackmichael/fuwamoko-bot/internal/reply"
)

const (
	DefaultLimit      = 25
	DefaultMaxReplies = 5
	DefaultInterval   = 5 * time.Second
)

// Inbox reads notifications and thread replies. *bluesky.Gateway implements it.
type Inbox interface {
	Notifications(ctx context.Context, limit int) ([]domain.Notification, error)
	ThreadReplyAuthors(ctx context.Context, uri string) ([]string, error)
}

// Replier writes reply text. *reply.Composer implements it.
type Replier interface {
	Canned(text string) (string, bool)
	Compose(ctx context.Context, req domain.ReplyRequest) string
}

// Recorder counts handled notifications by result.
type Recorder interface {
	Mention(result string)
}

type Config struct {
	Self       domain.Identity
	Limit      int
	MaxReplies int
	Interval   time.Duration
}

type Deps struct {
	Inbox    Inbox
	Replier  Replier
	Profiles domain.ProfileReader
	Poster   domain.ReplyPoster
	History  domain.HistoryStore
	Metrics  Recorder
}

// Service handles one batch of notifications per Run.
type Service struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewService creates a Service. Zero limits take the defaults.
func NewService(cfg Config, deps Deps, logger *slog.Logger) (*Service, error) {
	switch {
	case cfg.Self.DID == "":
		return nil, errors.New("bot did is required")
	case deps.Inbox == nil, deps.Replier == nil, deps.Poster == nil, deps.History == nil:
		return nil, errors.New("inbox, replier, poster and history are required")
	}
	cfg.Limit = cmp.Or(cfg.Limit, DefaultLimit)
	cfg.MaxReplies = cmp.Or(cfg.MaxReplies, DefaultMaxReplies)
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Service{cfg: cfg, deps: deps, logger: logger, sleep: sleepContext, now: time.Now}, nil
}

// Run replies to up to MaxReplies unanswered mentions and returns how many
// replies were posted.
func (s *Service) Run(ctx context.Context) (int, error) {
	notes, err := s.deps.Inbox.Notifications(ctx, s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("list notifications: %w", err)
	}
	s.logger.Info("mention pass started", "notifications", len(notes))

	replied := 0
	for i := range notes {
		if replied >= s.cfg.MaxReplies {
			s.logger.Info("reply limit reached", "max_replies", s.cfg.MaxReplies)
			break
		}
		if ctx.Err() != nil {
			break
		}

		result := s.handle(ctx, &notes[i])
		s.deps.Metrics.Mention(result)
		if result != resultReplied {
			continue
		}
		replied++
		if replied < s.cfg.MaxReplies && i < len(notes)-1 {
			if err := s.sleep(ctx, s.cfg.Interval); err != nil {
				break
			}
		}
	}

	s.logger.Info("mention pass complete", "replied", replied)
	return replied, nil
}

const (
	resultReplied = "replied"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

func (s *Service) handle(ctx context.Context, n *domain.Notification) string {
	p := &n.Post
	key := domain.NormalizeURI(p.URI)
	logger := s.logger.With("uri", key, "author", p.AuthorHandle, "reason", n.Reason)

	switch {
	case n.Reason != "mention" && n.Reason != "reply":
		return resultSkipped
	case p.AuthorDID == s.cfg.Self.DID:
		return resultSkipped
	case s.deps.History.ShouldSkip(key):
		logger.Debug("already answered")
		return resultSkipped
	case strings.TrimSpace(p.Text) == "":
		logger.Debug("empty text")
		return resultSkipped
	}

	authors, err := s.deps.Inbox.ThreadReplyAuthors(ctx, p.URI)
	if err != nil {
		logger.Warn("thread lookup failed, skipping", "error", err)
		return resultFailed
	}
	if slices.Contains(authors, s.cfg.Self.DID) {
		logger.Debug("thread already has a bot reply")
		s.record(ctx, key, p)
		return resultSkipped
	}

	lang := s.language(ctx, p)
	text, canned := s.deps.Replier.Canned(p.Text)
	if !canned {
		text = s.deps.Replier.Compose(ctx, domain.ReplyRequest{
			Text:     p.Text,
			Category: reply.CategoryChat,
			Lang:     lang,
			Author:   p.AuthorHandle,
		})
	}

	ref, err := s.deps.Poster.CreateReply(ctx, text, domain.ReplyTarget(p), []string{lang})
	if err != nil {
		logger.Error("post reply failed", "error", err)
		return resultFailed
	}

	s.record(ctx, key, p)
	logger.Info("replied to mention", "reply_uri", ref.URI, "canned", canned)
	return resultReplied
}

// record writes the history entry even after ctx is cancelled.
func (s *Service) record(ctx context.Context, key string, p *domain.Post) {
	s.deps.History.Record(context.WithoutCancel(ctx), key, p.HistoryTime(s.now()))
}

func (s *Service) language(ctx context.Context, p *domain.Post) string {
	if s.deps.Profiles == nil {
		return domain.LangJapanese
	}
	profile, err := s.deps.Profiles.GetProfile(ctx, cmp.Or(p.AuthorDID, p.AuthorHandle))
	if err != nil {
		s.logger.Warn("profile lookup failed, using default language", "error", err)
		return domain.LangJapanese
	}
	return domain.DetectLanguage(profile)
}

type nopRecorder struct{}

func (nopRecorder) Mention(string) {}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
