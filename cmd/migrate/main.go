// FraudGuard - Hybrid fraud-risk scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command migrate manages the FraudGuard database schema.
//
// Usage:
//
//	migrate [-config fraudguard.yaml] up       # apply all pending migrations
//	migrate [-config fraudguard.yaml] down     # roll back the last migration
//	migrate [-config fraudguard.yaml] status   # show every migration and its state
//	migrate [-config fraudguard.yaml] version  # show the current schema version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/logging"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

func main() {
	configPath := flag.String("config", "fraudguard.yaml", "path to YAML configuration")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-config path] <up|down|status|version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	m, err := repository.OpenMigrator(cfg.Repository)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Repository.Driver, "error", err)
		os.Exit(1)
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := runCommand(ctx, m, flag.Arg(0)); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		m.Close()
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, m *repository.Migrator, command string) error {
	switch command {
	case "up":
		results, err := m.Up(ctx)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("schema is up to date")
		}
		for _, res := range results {
			fmt.Printf("OK   %05d %s (%s)\n", res.Source.Version, res.Source.Path, res.Duration.Round(time.Millisecond))
		}

	case "down":
		res, err := m.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("DOWN %05d %s (%s)\n", res.Source.Version, res.Source.Path, res.Duration.Round(time.Millisecond))

	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %-10s %s\n", "VERSION", "STATE", "APPLIED AT")
		for _, s := range status {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%05d    %-10s %s\n", s.Source.Version, s.State, applied)
		}

	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d\n", v)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
