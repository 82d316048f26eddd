// Package domain defines the core interfaces and types for FraudGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All tenant-scoped methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Prediction results
	SavePrediction(ctx context.Context, tenantID string, rec *PredictionRecord) error
	GetPrediction(ctx context.Context, tenantID string, predictionID string) (*PredictionRecord, error)
	ListPredictionsByTransaction(ctx context.Context, tenantID string, txID string) ([]*PredictionRecord, error)

	// Training history (not tenant-scoped: one artifact serves all tenants)
	SaveTrainingRun(ctx context.Context, run *TrainingRun) error
	GetLatestTrainingRun(ctx context.Context) (*TrainingRun, error)
	ListTrainingRuns(ctx context.Context, limit int) ([]*TrainingRun, error)

	// Explanation factor rules
	SaveFactorRule(ctx context.Context, tenantID string, rule *FactorRule) error
	ListFactorRules(ctx context.Context, tenantID string) ([]*FactorRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific. PostgresURL, when set, takes precedence over the
	// individual fields.
	PostgresURL      string `json:"-" yaml:"postgresUrl"`
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
