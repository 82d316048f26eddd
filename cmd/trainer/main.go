// FraudGuard - Hybrid fraud-risk scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command trainer trains a FraudGuard model artifact offline.
//
// Usage:
//
//	go run ./cmd/trainer -data transactions.csv -out ./models
//	go run ./cmd/trainer -generate 10000 -save-data transactions.csv -out ./models
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/engine"
	"github.com/opensource-finance/fraudguard/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "optional YAML configuration for model hyperparameters")
	dataPath := flag.String("data", "", "labeled transactions CSV")
	outPath := flag.String("out", "", "artifact directory (defaults to the configured artifact path)")
	generate := flag.Int("generate", 0, "generate this many synthetic transactions instead of reading -data")
	fraudRate := flag.Float64("fraud-rate", 0.02, "fraud rate for generated transactions")
	seed := flag.Int64("seed", 42, "seed for generated transactions")
	saveData := flag.String("save-data", "", "write the generated dataset to this CSV")
	flag.Parse()

	if err := run(*configPath, *dataPath, *outPath, *generate, *fraudRate, *seed, *saveData); err != nil {
		fmt.Fprintf(os.Stderr, "trainer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataPath, outPath string, generate int, fraudRate float64, seed int64, saveData string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	ds, err := loadDataset(dataPath, generate, fraudRate, seed, saveData)
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = cfg.Model.ArtifactPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("training model",
		"rows", ds.Len(),
		"fraud", ds.Positives(),
		"artifact_path", outPath,
	)

	svc := engine.New(cfg.Model, artifact.NewFileStore(outPath))
	report, err := svc.Train(ctx, ds)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	hybrid := report.Strategies[domain.StrategyHybrid]
	slog.Info("model trained",
		"artifact_id", report.ArtifactID,
		"duration_ms", report.DurationMs,
		"hybrid_auc", hybrid.AUC,
		"hybrid_f1", hybrid.F1,
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func loadDataset(dataPath string, generate int, fraudRate float64, seed int64, saveData string) (*domain.Dataset, error) {
	if generate <= 0 {
		if dataPath == "" {
			return nil, fmt.Errorf("either -data or -generate is required")
		}
		return dataset.LoadCSV(dataPath)
	}

	ds := dataset.Generate(generate, fraudRate, seed)
	if saveData != "" {
		if err := dataset.SaveCSV(saveData, ds); err != nil {
			return nil, err
		}
		slog.Info("generated dataset saved", "path", saveData, "rows", ds.Len())
	}
	return ds, nil
}
