// FraudGuard - Hybrid fraud-risk scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudguard/internal/api"
	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/engine"
	"github.com/opensource-finance/fraudguard/internal/explain"
	"github.com/opensource-finance/fraudguard/internal/logging"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/scheduler"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
	"github.com/opensource-finance/fraudguard/internal/worker"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOr("FRAUDGUARD_CONFIG", "fraudguard.yaml"), "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fraudguard: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"artifact_path", cfg.Model.ArtifactPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fraudguard stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("fraudguard shutdown complete")
}

// run wires the services and serves until ctx is cancelled. Every
// collaborator opened here is closed on the way out, in reverse order.
func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	predictionCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer predictionCache.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	explainer, err := explain.NewEngine(100)
	if err != nil {
		return fmt.Errorf("explanation engine: %w", err)
	}
	defer explainer.Close()

	if err := explainer.LoadRules(factorRules(ctx, repo)); err != nil {
		return fmt.Errorf("factor rules: %w", err)
	}

	svc := engine.New(cfg.Model, artifact.NewFileStore(cfg.Model.ArtifactPath))
	trainer := scheduler.NewTrainer(svc, repo, eventBus, cfg.Model.DatasetPath)

	if err := loadModel(ctx, svc, trainer, cfg.Model); err != nil {
		logger.Warn("serving without a model; train via POST /model/train", "error", err)
	}

	if cfg.Model.RetrainSchedule != "" {
		retrainer, err := scheduler.New(cfg.Model.RetrainSchedule, trainer)
		if err != nil {
			return fmt.Errorf("retraining schedule: %w", err)
		}
		retrainer.Start()
		defer retrainer.Stop()
		logger.Info("retraining scheduled", "schedule", cfg.Model.RetrainSchedule)
	}

	if cfg.Worker.Enabled {
		w := worker.NewWorker(eventBus, repo, predictionCache, svc)
		if err := w.Start(cfg.Worker); err != nil {
			return fmt.Errorf("async worker: %w", err)
		}
		defer func() {
			if err := w.Stop(); err != nil {
				logger.Error("failed to stop async worker", "error", err)
			}
		}()
		logger.Info("async worker started",
			"tenant_count", len(cfg.Worker.TenantIDs),
			"group", cfg.Worker.Group,
		)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     predictionCache,
		Bus:       eventBus,
		Engine:    svc,
		Explainer: explainer,
		Trainer:   trainer,
		Version:   Version,
	})

	logger.Info("fraudguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", svc.Ready(),
		"factors_count", explainer.RulesCount(),
	)
	printBanner(cfg, Version)

	return srv.Run(ctx, shutdownTimeout)
}

// loadModel restores the persisted artifact, or trains one from the
// configured dataset when none exists and training on start is enabled.
func loadModel(ctx context.Context, svc *engine.Service, trainer *scheduler.Trainer, cfg domain.ModelConfig) error {
	a, err := svc.Restore(ctx)
	if err == nil {
		slog.Info("model restored", "artifact_id", a.ID, "created_at", a.CreatedAt)
		return nil
	}
	if !cfg.TrainOnStart {
		return err
	}

	slog.Info("no usable artifact, training on start", "reason", err, "dataset", cfg.DatasetPath)
	run, err := trainer.Run(ctx, scheduler.SourceStartup)
	if err != nil {
		return err
	}
	slog.Info("model trained on start", "artifact_id", run.ArtifactID)
	return nil
}

// factorRules returns the stored explanation factors, or the built-in set
// when none are stored or the store cannot be read.
func factorRules(ctx context.Context, repo domain.Repository) []*domain.FactorRule {
	stored, err := repo.ListFactorRules(ctx, domain.GlobalTenantID)
	switch {
	case err != nil:
		slog.Warn("failed to list factor rules, using built-in rules", "error", err)
	case len(stored) > 0:
		slog.Info("loading factor rules from database", "count", len(stored))
		return stored
	default:
		slog.Info("no factor rules in database, using built-in rules")
	}
	return explain.DefaultRules()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var endpoints = [][2]string{
	{"POST /predict", "Score a transaction"},
	{"POST /predict/batch", "Score a batch of transactions"},
	{"POST /transactions", "Queue a transaction for async scoring"},
	{"POST /explain", "Score and explain a transaction"},
	{"POST /simulate", "Score a random transaction"},
	{"GET  /predictions/{id}", "Get prediction by ID"},
	{"GET  /transactions/{id}", "Get transaction by ID"},
	{"GET  /model", "Model information"},
	{"POST /model/train", "Train a new model"},
	{"POST /model/reload", "Reload the stored model"},
	{"GET  /model/runs", "Training history"},
	{"GET  /factors", "List explanation factors"},
	{"POST /factors", "Create an explanation factor"},
	{"POST /factors/reload", "Hot-reload factors from database"},
	{"GET  /health", "Health check"},
	{"GET  /metrics", "Prometheus metrics"},
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               FRAUDGUARD                  ║")
	fmt.Println("  ║       Hybrid Fraud-Risk Scoring           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	for _, e := range endpoints {
		fmt.Printf("    %-24s - %s\n", e[0], e[1])
	}
	fmt.Println()
}
