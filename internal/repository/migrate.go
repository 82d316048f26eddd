package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// The schema is shared by SQLite and PostgreSQL, so one migration set serves
// both drivers.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

func newProvider(db *sql.DB, driver string) (*goose.Provider, error) {
	var dialect goose.Dialect
	switch driver {
	case "sqlite":
		dialect = goose.DialectSQLite3
	case "postgres":
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, db, fsys)
}

// migrateUp applies every pending migration.
func migrateUp(ctx context.Context, db *sql.DB, driver string) error {
	provider, err := newProvider(db, driver)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		slog.Info("applied migration",
			"version", res.Source.Version,
			"file", res.Source.Path,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}
	return nil
}

// Migrator exposes the schema migrations of a database to operators.
type Migrator struct {
	db       *sql.DB
	provider *goose.Provider
}

// OpenMigrator connects to the database in cfg without applying anything.
func OpenMigrator(cfg domain.RepositoryConfig) (*Migrator, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Migrator{db: db, provider: provider}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	return m.provider.Up(ctx)
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) (*goose.MigrationResult, error) {
	return m.provider.Down(ctx)
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return m.provider.Status(ctx)
}

// Version returns the current schema version, 0 for an empty database.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

// Close releases the database connection.
func (m *Migrator) Close() error {
	return m.db.Close()
}
