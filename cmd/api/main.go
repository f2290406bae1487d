package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tamakara/bakabooru/internal/app"
	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/handlers"
	"github.com/tamakara/bakabooru/internal/ingest"
	"github.com/tamakara/bakabooru/internal/jobs"
	"github.com/tamakara/bakabooru/internal/log"
	"github.com/tamakara/bakabooru/internal/server"
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

	var worker *ingest.Worker
	if cfg.Worker.Enabled {
		worker = infra.NewWorker()
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, infra.HandlerDeps(worker))
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet, infra.Metrics.Handler())

	scheduler := jobs.NewScheduler(infra.Queue, infra.Metrics, cfg.Jobs, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("scheduler stop timed out")
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		infra.Close()
		os.Exit(1)
	}
	logger.Info().Msg("server exited cleanly")
}
