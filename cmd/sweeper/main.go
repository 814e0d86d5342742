// Package main runs the maintenance sweep as a standalone process, for
// deployments that keep housekeeping off the serving path.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronoflow/timetracker/internal/config"
	"github.com/chronoflow/timetracker/internal/logger"
	"github.com/chronoflow/timetracker/internal/repository"
	"github.com/chronoflow/timetracker/internal/session"
	"github.com/chronoflow/timetracker/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	pool, err := setupDatabase(cfg)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	sessionRepo := repository.NewSessionRepository(pool)
	settingsRepo := repository.NewSecuritySettingsRepository(pool)
	historyRepo := repository.NewPasswordHistoryRepository(pool)

	lifecycle := session.NewLifecycleManager(sessionRepo, settingsRepo, cfg.Sessions.AbsoluteLifetime,
		cfg.Sweep.BatchSize, cfg.Sweep.BatchDelay, log)

	job := sweeper.NewJob(lifecycle, historyRepo, cfg.Sweep, log)
	if err := job.Start(); err != nil {
		log.Error("failed to start maintenance sweep", slog.String("error", err.Error()))
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down sweeper")
	job.Stop()
}

func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// The sweeper needs far fewer connections than the server.
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
