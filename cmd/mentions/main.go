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
	"github.com/blackmichael/fuwamoko-bot/internal/config"
	"github.com/blackmichael/fuwamoko-bot/internal/domain"
	"github.com/blackmichael/fuwamoko-bot/internal/history"
	"github.com/blackmichael/fuwamoko-bot/internal/mention"
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
	logger := app.NewLogger(cfg.LogLevel, "mentions")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tbl, err := tables.Load(cfg.TablesFile)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	store, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hist := history.New(store.History, logger, history.WithCooldown(cfg.Cooldown))
	hist.Load(ctx)

	client, err := app.Login(ctx, cfg, logger)
	if err != nil {
		return err
	}
	gateway := bluesky.NewGateway(client)

	composer, err := app.NewComposer(ctx, cfg, tbl.Reply, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	svc, err := mention.NewService(
		mention.Config{
			Self:       domain.Identity{DID: client.DID(), Handle: client.Handle()},
			Limit:      cfg.MentionsLimit,
			MaxReplies: cfg.MaxMentionReplies,
			Interval:   cfg.MentionInterval,
		},
		mention.Deps{
			Inbox:    gateway,
			Replier:  composer,
			Profiles: gateway,
			Poster:   gateway,
			History:  hist,
			Metrics:  m,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("create mention service: %w", err)
	}

	replied, err := svc.Run(ctx)
	app.PushMetrics(cfg, m, "mentions", logger)
	if err != nil {
		if app.IsInterrupted(err) {
			return nil
		}
		return fmt.Errorf("run mention pass: %w", err)
	}

	logger.Info("mention run finished", "replied", replied)
	return nil
}
