// Package main is the entry point for the Truth Spine nightly portfolio
// analytics platform. It builds the immutable pricing pack, reconciles it
// against the ledger, computes derived metrics, and only then opens the
// freshness gate that lets the capability-dispatch executor serve requests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/truthspine/internal/config"
	"github.com/aristath/truthspine/internal/di"
	"github.com/aristath/truthspine/internal/server"
	"github.com/aristath/truthspine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting truth spine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	sched := cron.New()

	// 05:00 local: the sacred order. Building the pack, reconciling the
	// ledger, and computing metrics before anything else is allowed to run.
	if _, err := sched.AddFunc("0 5 * * *", func() {
		asOf := time.Now().UTC().Truncate(24 * time.Hour)
		report := container.Pipeline.Run(ctx, asOf)
		if !report.Success {
			log.Error().Str("blocked_at", report.BlockedAt).Msg("nightly run did not complete")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule nightly run")
	}

	// Hourly, five past: replay anything the DLQ is holding with its
	// backoff schedule elapsed.
	if _, err := sched.AddFunc("5 * * * *", func() {
		container.ReplayJob.Run(ctx)
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule DLQ replay")
	}

	sched.Start()
	log.Info().Msg("scheduler started: nightly run at 05:00, DLQ replay hourly at :05")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	schedCtx := sched.Stop()
	<-schedCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}
