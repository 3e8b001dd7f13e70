package domain

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"
)

// Outcome is the terminal state of one post's trip through the pipeline.
type Outcome string

const (
	OutcomeFiltered Outcome = "filtered"
	OutcomeNoImage  Outcome = "no-image"
	OutcomeRejected Outcome = "rejected"
	OutcomeGated    Outcome = "gated"
	OutcomeReplied  Outcome = "replied"
	OutcomeFailed   Outcome = "failed"
)

// RunStats summarizes one engagement pass.
type RunStats struct {
	Candidates int
	Outcomes   map[Outcome]int
}

// EngagementConfig tunes the orchestrator.
type EngagementConfig struct {
	// DelayMin and DelayMax bound the random pause between posts. Zero
	// disables the pause.
	DelayMin time.Duration
	DelayMax time.Duration
}

// EngagementDeps are the collaborators of EngagementService.
type EngagementDeps struct {
	Source      CandidateSource
	Eligibility *Eligibility
	Images      ImageFetcher
	Classifier  Classifier
	Gate        *Gate
	Profiles    ProfileReader
	Composer    ReplyComposer
	Poster      ReplyPoster
	History     HistoryStore
	Metrics     Metrics
}

// EngagementService is the core domain service. It walks the candidate posts
// newest first and takes each one through filter, image, classify, gate and
// reply, recording every terminal decision in history.
type EngagementService struct {
	cfg    EngagementConfig
	deps   EngagementDeps
	logger *slog.Logger

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngagementService creates an EngagementService.
func NewEngagementService(cfg EngagementConfig, deps EngagementDeps, logger *slog.Logger) (*EngagementService, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("candidate source is required")
	case deps.Eligibility == nil:
		return nil, errors.New("eligibility filter is required")
	case deps.Images == nil, deps.Classifier == nil:
		return nil, errors.New("image fetcher and classifier are required")
	case deps.Gate == nil:
		return nil, errors.New("gate is required")
	case deps.Composer == nil, deps.Poster == nil:
		return nil, errors.New("reply composer and poster are required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if cfg.DelayMax < cfg.DelayMin {
		return nil, fmt.Errorf("delay max %s is below delay min %s", cfg.DelayMax, cfg.DelayMin)
	}

	return &EngagementService{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}, nil
}

// Run processes one batch of candidates. Only a failure to fetch candidates is
// returned; per-post failures are logged and recorded.
func (s *EngagementService) Run(ctx context.Context) (*RunStats, error) {
	posts, err := s.deps.Source.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	slices.SortStableFunc(posts, func(a, b Post) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})

	stats := &RunStats{Candidates: len(posts), Outcomes: make(map[Outcome]int)}
	s.logger.Info("engagement pass started", "candidates", len(posts))

	for i := range posts {
		if i > 0 {
			if err := s.sleep(ctx, s.delay()); err != nil {
				s.logger.Info("engagement pass interrupted", "processed", i, "error", err)
				break
			}
		}
		outcome := s.handle(ctx, &posts[i])
		stats.Outcomes[outcome]++
	}

	s.logger.Info("engagement pass complete",
		"candidates", stats.Candidates,
		"replied", stats.Outcomes[OutcomeReplied],
		"failed", stats.Outcomes[OutcomeFailed],
	)
	return stats, nil
}

// handle runs one post and records the result. It is the only place where
// per-post errors and panics stop.
func (s *EngagementService) handle(ctx context.Context, p *Post) Outcome {
	s.deps.Metrics.Candidate()
	key := NormalizeURI(p.URI)
	logger := s.logger.With("uri", key, "author", p.AuthorHandle)

	outcome, reason, err := s.process(ctx, p)
	if err != nil {
		logger.Error("post processing failed", "error", err)
		outcome = OutcomeFailed
	}
	s.deps.Metrics.Finished(outcome)

	if reason == SkipAlreadyReplied {
		logger.Debug("skipped, already in history")
		return outcome
	}

	if p.Timestamp.IsZero() {
		logger.Warn("post has no usable timestamp, recording with the current time")
	}
	// Recording outlives a shutdown signal so the post is not retried.
	s.deps.History.Record(context.WithoutCancel(ctx), key, p.HistoryTime(s.now()))
	logger.Info("post handled", "outcome", outcome, "reason", reason)
	return outcome
}

func (s *EngagementService) process(ctx context.Context, p *Post) (outcome Outcome, reason SkipReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	if reason := s.deps.Eligibility.Check(ctx, p); reason != SkipNone {
		s.deps.Metrics.Skipped(reason)
		return OutcomeFiltered, reason, nil
	}

	var summary *ImageSummary
	for _, ref := range p.Images {
		if img, ok := s.deps.Images.Fetch(ctx, ref); ok {
			sum := s.deps.Classifier.Summarize(img)
			summary = &sum
			break
		}
	}
	if summary == nil {
		return OutcomeNoImage, SkipNone, nil
	}

	verdict := s.deps.Classifier.Classify(summary, p.Text)
	s.deps.Metrics.Classified(verdict.Category)
	s.logger.Debug("classified post",
		"uri", p.URI,
		"category", verdict.Category,
		"pass", verdict.Pass,
		"soft_matches", verdict.SoftMatches,
		"skin_ratio", verdict.SkinRatio,
		"keyword", verdict.Keyword,
	)
	if !verdict.Pass {
		return OutcomeRejected, SkipNone, nil
	}

	if s.deps.Gate.Skip() {
		return OutcomeGated, SkipNone, nil
	}

	lang := s.language(ctx, p)
	text := s.deps.Composer.Compose(ctx, ReplyRequest{
		Text:     p.Text,
		Category: verdict.Category,
		Lang:     lang,
		Author:   p.AuthorHandle,
	})

	ref, err := s.deps.Poster.CreateReply(ctx, text, ReplyTarget(p), []string{lang})
	if err != nil {
		return OutcomeFailed, SkipNone, fmt.Errorf("create reply: %w", err)
	}

	s.logger.Info("replied", "uri", p.URI, "reply_uri", ref.URI, "category", verdict.Category, "lang", lang)
	return OutcomeReplied, SkipNone, nil
}

func (s *EngagementService) language(ctx context.Context, p *Post) string {
	if s.deps.Profiles == nil {
		return LangJapanese
	}
	actor := cmp.Or(p.AuthorDID, p.AuthorHandle)
	profile, err := s.deps.Profiles.GetProfile(ctx, actor)
	if err != nil {
		s.logger.Warn("profile lookup failed, using default language", "actor", actor, "error", err)
		return LangJapanese
	}
	return DetectLanguage(profile)
}

func (s *EngagementService) delay() time.Duration {
	lo, hi := s.cfg.DelayMin, s.cfg.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

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
