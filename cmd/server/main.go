// Package main is the entry point for NovaOS, an autonomous treasury
// operator: a swarm of agents coordinated over a SQLite message bus, with a
// decision engine for treasury actions and an admin HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/di"
	"github.com/MRT0B13/novaos/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Bool("dry_run", cfg.DryRun).
		Bool("auto_decisions", cfg.AutoDecisions).
		Msg("Starting NovaOS")

	// Collaborators are wired per deployment. A bare registry runs the
	// swarm in observation mode: every venue reads as absent and nothing
	// is ever executed.
	registry := &collab.Registry{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.Build(ctx, cfg, registry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	if err := container.StartAgents(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start swarm")
		container.Close()
		os.Exit(1)
	}
	container.Housekeeping.Start()

	serverErr := make(chan error, 1)
	go func() {
		if err := container.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	container.Housekeeping.Stop()
	container.StopAgents(shutdownCtx)
	container.Close()

	log.Info().Msg("NovaOS stopped")
}
