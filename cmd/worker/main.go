package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/tamakara/bakabooru/internal/app"
	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect infrastructure")
	}
	defer infra.Close()

	if err := infra.Prepare(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	// Blocks until the signal; a task in flight is finished first.
	if err := infra.NewWorker().Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped unexpectedly")
	}
	logger.Info().Msg("worker exited cleanly")
}
