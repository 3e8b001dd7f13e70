package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blackmichael/fuwamoko-bot/internal/app"
	"github.com/blackmichael/fuwamoko-bot/internal/bluesky"
	"github.com/blackmichael/fuwamoko-bot/internal/classify"
	"github.com/blackmichael/fuwamoko-bot/internal/config"
	"github.com/blackmichael/fuwamoko-bot/internal/domain"
	"github.com/blackmichael/fuwamoko-bot/internal/filestore"
	"github.com/blackmichael/fuwamoko-bot/internal/firehose"
	"github.com/blackmichael/fuwamoko-bot/internal/history"
	"github.com/blackmichael/fuwamoko-bot/internal/imagefetch"
	"github.com/blackmichael/fuwamoko-bot/internal/metrics"
	"github.com/blackmichael/fuwamoko-bot/internal/tables"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel, "bot")

	// A signal stops the pass between posts.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tbl, err := tables.Load(cfg.TablesFile)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	app.ApplyClassifierOverrides(&tbl.Classifier, cfg.Classifier)
	classifier, err := classify.NewClassifier(tbl.Classifier)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	store, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hist := history.New(store.History, logger, history.WithCooldown(cfg.Cooldown))
	entries := hist.Load(ctx)
	logger.Info("history loaded", "backend", cfg.HistoryBackend, "entries", len(entries))

	reposted, err := filestore.LoadIDSet(cfg.RepostedFile)
	if err != nil {
		return fmt.Errorf("load reposted ids: %w", err)
	}

	client, err := app.Login(ctx, cfg, logger)
	if err != nil {
		return err
	}
	gateway := bluesky.NewGateway(client)
	self := domain.Identity{DID: client.DID(), Handle: client.Handle()}
	mutuals := domain.NewMutualChecker(client, self.DID, logger)

	var source domain.CandidateSource
	switch cfg.CandidateSource {
	case config.SourceJetstream:
		source = firehose.NewCollector(cfg.FirehoseURL, store.Cursors, mutuals, cfg.FirehoseWindow, logger)
	default:
		source = bluesky.NewTimelineSource(client, cfg.TimelineLimit)
	}

	m := metrics.New()
	fetcher := imagefetch.NewFetcher(imagefetch.DefaultSources(cfg.CDNURL, nil, client), logger, m)

	composer, err := app.NewComposer(ctx, cfg, tbl.Reply, logger)
	if err != nil {
		return err
	}

	eligibility := domain.NewEligibility(domain.EligibilityConfig{
		Self:        self,
		Reposted:    reposted,
		PriorityTag: cfg.PriorityTag,
	}, hist, mutuals)

	svc, err := domain.NewEngagementService(
		domain.EngagementConfig{DelayMin: cfg.DelayMin, DelayMax: cfg.DelayMax},
		domain.EngagementDeps{
			Source:      source,
			Eligibility: eligibility,
			Images:      fetcher,
			Classifier:  classifier,
			Gate:        domain.NewGate(cfg.SkipProbability, nil),
			Profiles:    gateway,
			Composer:    composer,
			Poster:      gateway,
			History:     hist,
			Metrics:     m,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("create engagement service: %w", err)
	}

	stats, err := svc.Run(ctx)
	app.PushMetrics(cfg, m, "bot", logger)
	if err != nil {
		if app.IsInterrupted(err) {
			logger.Info("interrupted before the pass started")
			return nil
		}
		return fmt.Errorf("run engagement pass: %w", err)
	}

	logger.Info("bot run finished",
		"candidates", stats.Candidates,
		"replied", stats.Outcomes[domain.OutcomeReplied],
		"rejected", stats.Outcomes[domain.OutcomeRejected],
		"gated", stats.Outcomes[domain.OutcomeGated],
		"failed", stats.Outcomes[domain.OutcomeFailed],
	)
	return nil
}
