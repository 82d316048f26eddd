package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/testutil"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "fraudguard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	exerciseRepository(t, repo)
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPostgresRepository(t *testing.T) {
	cfg := testutil.PostgresConfig(t)

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	exerciseRepository(t, repo)
}

func exerciseRepository(t *testing.T, repo domain.Repository) {
	t.Helper()

	ctx := context.Background()
	tenantID := "tenant-" + time.Now().Format("150405.000000")
	ts := time.Date(2025, 6, 11, 2, 15, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := testutil.Suspicious()
		tx.Timestamp = ts

		if err := repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tenantID, tx.TransactionID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Amount != tx.Amount || got.MerchantCategory != tx.MerchantCategory {
			t.Errorf("round trip mismatch: got %+v", got)
		}
		if got.GeographicRisk != tx.GeographicRisk || got.Velocity1h != tx.Velocity1h {
			t.Errorf("risk fields lost: got %+v", got)
		}
		if !got.Timestamp.Equal(ts) {
			t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
		}
	})

	t.Run("SaveTransactionReplaces", func(t *testing.T) {
		tx := testutil.Benign()
		if err := repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
			t.Fatalf("first save failed: %v", err)
		}
		tx.Amount = 99.5
		if err := repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
			t.Fatalf("second save failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tenantID, tx.TransactionID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Amount != 99.5 {
			t.Errorf("amount = %v, want 99.5", got.Amount)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID+"-other", "txn_suspicious")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := testutil.Benign()
		if err := repo.SaveTransaction(ctx, "", &tx); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetPrediction(ctx, "", "p"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListFactorRules(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("RequiresTransactionID", func(t *testing.T) {
		tx := testutil.Benign()
		tx.TransactionID = ""
		if err := repo.SaveTransaction(ctx, tenantID, &tx); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("Predictions", func(t *testing.T) {
		first := &domain.PredictionRecord{
			ID:            "pred-001-" + tenantID,
			TransactionID: "txn_suspicious",
			UserID:        "user_4242",
			Prediction: domain.Prediction{
				FraudScore:       0.86,
				ClassifierScore:  0.93,
				AnomalyScore:     0.79,
				AnomalyDecision:  -0.03,
				RiskLevel:        domain.RiskHigh,
				Action:           domain.ActionBlock,
				IsFraudPredicted: true,
				ArtifactID:       "artifact-1",
			},
			ProcessingMs: 1.25,
			Timestamp:    ts,
		}
		second := *first
		second.ID = "pred-002-" + tenantID
		second.Timestamp = ts.Add(time.Minute)

		for _, rec := range []*domain.PredictionRecord{first, &second} {
			if err := repo.SavePrediction(ctx, tenantID, rec); err != nil {
				t.Fatalf("SavePrediction failed: %v", err)
			}
		}

		got, err := repo.GetPrediction(ctx, tenantID, first.ID)
		if err != nil {
			t.Fatalf("GetPrediction failed: %v", err)
		}
		if got.TenantID != tenantID || got.RiskLevel != domain.RiskHigh || got.Action != domain.ActionBlock {
			t.Errorf("unexpected record: %+v", got)
		}
		if !got.IsFraudPredicted || got.FraudScore != 0.86 || got.ArtifactID != "artifact-1" {
			t.Errorf("scores lost: %+v", got)
		}

		list, err := repo.ListPredictionsByTransaction(ctx, tenantID, "txn_suspicious")
		if err != nil {
			t.Fatalf("ListPredictionsByTransaction failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 predictions, got %d", len(list))
		}
		if list[0].ID != second.ID {
			t.Errorf("expected newest first, got %s", list[0].ID)
		}

		_, err = repo.GetPrediction(ctx, tenantID+"-other", first.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got: %v", err)
		}
	})

	t.Run("TrainingRuns", func(t *testing.T) {
		older := &domain.TrainingRun{
			ID:         "run-old-" + tenantID,
			Source:     "api",
			Status:     domain.RunFailed,
			Error:      "training data: no fraud rows",
			StartedAt:  ts.Add(-time.Hour),
			FinishedAt: ts.Add(-time.Hour + time.Second),
		}
		newer := &domain.TrainingRun{
			ID:         "run-new-" + tenantID,
			ArtifactID: "artifact-2",
			Source:     "scheduler",
			Status:     domain.RunSucceeded,
			Report: &domain.PerformanceReport{
				ArtifactID: "artifact-2",
				Rows:       2000,
				Strategies: map[domain.Strategy]domain.StrategyMetrics{
					domain.StrategyHybrid: {AUC: 0.97},
				},
			},
			StartedAt:  ts.Add(24 * time.Hour),
			FinishedAt: ts.Add(24*time.Hour + 3*time.Second),
		}

		for _, run := range []*domain.TrainingRun{older, newer} {
			if err := repo.SaveTrainingRun(ctx, run); err != nil {
				t.Fatalf("SaveTrainingRun failed: %v", err)
			}
		}

		latest, err := repo.GetLatestTrainingRun(ctx)
		if err != nil {
			t.Fatalf("GetLatestTrainingRun failed: %v", err)
		}
		if latest.ID != newer.ID {
			t.Errorf("latest = %s, want %s", latest.ID, newer.ID)
		}
		if latest.Report == nil || latest.Report.Strategies[domain.StrategyHybrid].AUC != 0.97 {
			t.Errorf("report not restored: %+v", latest.Report)
		}

		runs, err := repo.ListTrainingRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListTrainingRuns failed: %v", err)
		}
		if len(runs) < 2 {
			t.Fatalf("expected at least 2 runs, got %d", len(runs))
		}
		if runs[0].ID != newer.ID {
			t.Errorf("expected newest first, got %s", runs[0].ID)
		}
	})

	t.Run("FactorRules", func(t *testing.T) {
		rule := &domain.FactorRule{
			ID:        "factor-night",
			Name:      "Night transaction",
			Condition: "hour < 6",
			Field:     domain.FieldHour,
			Impact:    domain.ImpactRisk,
			Weight:    0.3,
			Enabled:   true,
		}
		if err := repo.SaveFactorRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveFactorRule failed: %v", err)
		}

		rule.Weight = 0.45
		rule.Enabled = false
		if err := repo.SaveFactorRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveFactorRule upsert failed: %v", err)
		}

		rules, err := repo.ListFactorRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListFactorRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
		if rules[0].Weight != 0.45 || rules[0].Enabled {
			t.Errorf("upsert not applied: %+v", rules[0])
		}

		other, err := repo.ListFactorRules(ctx, tenantID+"-other")
		if err != nil {
			t.Fatalf("ListFactorRules failed: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("expected no rules for other tenant, got %d", len(other))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetPrediction(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestLatestTrainingRunEmpty(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	_, err = repo.GetLatestTrainingRun(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Fields", func(t *testing.T) {
		dsn, err := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "scorer",
			PostgresPassword: "p@ss/w:rd",
			PostgresDB:       "risk",
		})
		if err != nil {
			t.Fatalf("postgresDSN failed: %v", err)
		}
		u, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("dsn is not a url: %v", err)
		}
		if u.Host != "db.internal:6432" || u.Path != "/risk" {
			t.Errorf("unexpected host/path in %q", dsn)
		}
		if pw, _ := u.User.Password(); pw != "p@ss/w:rd" {
			t.Errorf("password did not survive encoding: %q", pw)
		}
		q := u.Query()
		if q.Get("sslmode") != "disable" || q.Get("application_name") != "fraudguard" || q.Get("connect_timeout") != "5" {
			t.Errorf("unexpected query %q", u.RawQuery)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		dsn, _ := postgresDSN(domain.RepositoryConfig{})
		if !strings.HasPrefix(dsn, "postgres://localhost:5432/fraudguard?") {
			t.Errorf("unexpected default dsn %q", dsn)
		}
	})

	t.Run("URLOverride", func(t *testing.T) {
		dsn, err := postgresDSN(domain.RepositoryConfig{
			PostgresURL:  "postgresql://u:p@pg:5432/other?sslmode=require",
			PostgresHost: "ignored",
		})
		if err != nil {
			t.Fatalf("postgresDSN failed: %v", err)
		}
		u, _ := url.Parse(dsn)
		if u.Host != "pg:5432" || u.Query().Get("sslmode") != "require" {
			t.Errorf("url override not honoured: %q", dsn)
		}
	})

	t.Run("ExplicitSSLMode", func(t *testing.T) {
		dsn, _ := postgresDSN(domain.RepositoryConfig{
			PostgresURL:     "postgres://pg/db?sslmode=disable",
			PostgresSSLMode: "verify-full",
		})
		u, _ := url.Parse(dsn)
		if got := u.Query().Get("sslmode"); got != "verify-full" {
			t.Errorf("expected verify-full, got %q", got)
		}
	})

	t.Run("BadScheme", func(t *testing.T) {
		if _, err := postgresDSN(domain.RepositoryConfig{PostgresURL: "mysql://x/y"}); err == nil {
			t.Error("expected error for non-postgres url")
		}
	})
}

func TestSQLiteDSN(t *testing.T) {
	if got := sqliteDSN(MemoryPath); got != "file::memory:?_pragma=foreign_keys(ON)" {
		t.Errorf("memory dsn = %q", got)
	}

	got := sqliteDSN("/var/lib/fraudguard/fg.db")
	if !strings.HasPrefix(got, "file:/var/lib/fraudguard/fg.db?") {
		t.Errorf("file dsn = %q", got)
	}
	for _, p := range filePragmas {
		if !strings.Contains(got, "_pragma="+p) {
			t.Errorf("file dsn %q is missing pragma %s", got, p)
		}
	}
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrate.db")
	cfg := domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path}

	m, err := OpenMigrator(cfg)
	if err != nil {
		t.Fatalf("OpenMigrator failed: %v", err)
	}
	defer m.Close()

	if v, err := m.Version(ctx); err != nil || v != 0 {
		t.Fatalf("expected empty database at version 0, got %d, %v", v, err)
	}

	results, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("expected 4 applied migrations, got %d", len(results))
	}

	t.Run("Idempotent", func(t *testing.T) {
		again, err := m.Up(ctx)
		if err != nil || len(again) != 0 {
			t.Errorf("expected no pending migrations, got %d, %v", len(again), err)
		}

		// New on a migrated database applies nothing and succeeds
		repo, err := New(cfg)
		if err != nil {
			t.Fatalf("New on migrated database failed: %v", err)
		}
		repo.Close()
	})

	t.Run("Status", func(t *testing.T) {
		status, err := m.Status(ctx)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		for _, s := range status {
			if s.State != goose.StateApplied {
				t.Errorf("migration %d is %s", s.Source.Version, s.State)
			}
		}
	})

	t.Run("Down", func(t *testing.T) {
		res, err := m.Down(ctx)
		if err != nil {
			t.Fatalf("Down failed: %v", err)
		}
		if res.Source.Version != 4 {
			t.Errorf("expected to roll back version 4, got %d", res.Source.Version)
		}
		if v, _ := m.Version(ctx); v != 3 {
			t.Errorf("expected version 3 after rollback, got %d", v)
		}
	})
}
