// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New opens the configured database and brings its schema up to date.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := migrateUp(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{db: db, driver: cfg.Driver}, nil
}

// open connects to the configured driver and applies the pool limits.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// SaveTransaction stores a transaction with tenant isolation. Saving the same
// transaction ID again replaces the stored record.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if tx == nil || tx.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	now := time.Now().UTC()
	ts := tx.Timestamp
	if ts.IsZero() {
		ts = now
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, user_id, amount, merchant_category, timestamp, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			user_id = excluded.user_id,
			amount = excluded.amount,
			merchant_category = excluded.merchant_category,
			timestamp = excluded.timestamp,
			payload = excluded.payload
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.TransactionID, tenantID, tx.UserID, tx.Amount, tx.MerchantCategory,
		ts.UTC(), now, string(payload),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT payload FROM transactions WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tx domain.Transaction
	if err := json.Unmarshal([]byte(payload), &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", txID, err)
	}
	return &tx, nil
}

// SavePrediction stores a prediction record with tenant isolation.
func (r *SQLRepository) SavePrediction(ctx context.Context, tenantID string, rec *domain.PredictionRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: prediction id is required", ErrInvalidInput)
	}

	flagged := 0
	if rec.IsFraudPredicted {
		flagged = 1
	}

	query := `
		INSERT INTO predictions (
			id, tenant_id, tx_id, user_id, artifact_id,
			fraud_score, classifier_score, anomaly_score, anomaly_decision,
			risk_level, action, is_fraud_predicted, processing_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.TransactionID, rec.UserID, rec.ArtifactID,
		rec.FraudScore, rec.ClassifierScore, rec.AnomalyScore, rec.AnomalyDecision,
		string(rec.RiskLevel), string(rec.Action), flagged, rec.ProcessingMs, rec.Timestamp.UTC(),
	)
	return err
}

const predictionColumns = `
	id, tenant_id, tx_id, user_id, artifact_id,
	fraud_score, classifier_score, anomaly_score, anomaly_decision,
	risk_level, action, is_fraud_predicted, processing_ms, timestamp
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*domain.PredictionRecord, error) {
	var rec domain.PredictionRecord
	var userID sql.NullString
	var level, action string
	var flagged int

	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.TransactionID, &userID, &rec.ArtifactID,
		&rec.FraudScore, &rec.ClassifierScore, &rec.AnomalyScore, &rec.AnomalyDecision,
		&level, &action, &flagged, &rec.ProcessingMs, &rec.Timestamp,
	); err != nil {
		return nil, err
	}

	rec.UserID = userID.String
	rec.RiskLevel = domain.RiskLevel(level)
	rec.Action = domain.Action(action)
	rec.IsFraudPredicted = flagged == 1
	return &rec, nil
}

// GetPrediction retrieves a prediction by ID with tenant isolation.
func (r *SQLRepository) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE tenant_id = ? AND id = ?`

	rec, err := scanPrediction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, predictionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListPredictionsByTransaction returns every prediction made for a
// transaction, newest first.
func (r *SQLRepository) ListPredictionsByTransaction(ctx context.Context, tenantID string, txID string) ([]*domain.PredictionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE tenant_id = ? AND tx_id = ? ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.PredictionRecord
	for rows.Next() {
		rec, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveTrainingRun stores a training run, replacing any run with the same ID.
// A run still in progress has a zero FinishedAt.
func (r *SQLRepository) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: training run id is required", ErrInvalidInput)
	}

	var report sql.NullString
	if run.Report != nil {
		data, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		report = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO training_runs (
			id, artifact_id, source, status, error, report, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			artifact_id = excluded.artifact_id,
			status = excluded.status,
			error = excluded.error,
			report = excluded.report,
			finished_at = excluded.finished_at
	`

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.ArtifactID, run.Source, run.Status, run.Error, report,
		run.StartedAt.UTC(), finishedAt,
	)
	return err
}

const trainingRunColumns = `id, artifact_id, source, status, error, report, started_at, finished_at`

func scanTrainingRun(row rowScanner) (*domain.TrainingRun, error) {
	var run domain.TrainingRun
	var artifactID, runErr, report sql.NullString
	var finishedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &artifactID, &run.Source, &run.Status, &runErr, &report,
		&run.StartedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.FinishedAt = finishedAt.Time
	run.ArtifactID = artifactID.String
	run.Error = runErr.String
	if report.Valid && report.String != "" {
		run.Report = &domain.PerformanceReport{}
		if err := json.Unmarshal([]byte(report.String), run.Report); err != nil {
			return nil, fmt.Errorf("failed to parse report for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// GetLatestTrainingRun returns the most recently started run.
func (r *SQLRepository) GetLatestTrainingRun(ctx context.Context) (*domain.TrainingRun, error) {
	query := `SELECT ` + trainingRunColumns + ` FROM training_runs ORDER BY started_at DESC LIMIT 1`

	run, err := scanTrainingRun(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListTrainingRuns returns up to limit runs, newest first.
func (r *SQLRepository) ListTrainingRuns(ctx context.Context, limit int) ([]*domain.TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + trainingRunColumns + ` FROM training_runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TrainingRun
	for rows.Next() {
		run, err := scanTrainingRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveFactorRule stores an explanation factor rule with tenant isolation.
func (r *SQLRepository) SaveFactorRule(ctx context.Context, tenantID string, rule *domain.FactorRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: factor rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO factor_rules (
			id, tenant_id, name, description, expression, field, impact, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			field = excluded.field,
			impact = excluded.impact,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Condition, rule.Field, rule.Impact, rule.Weight, enabled,
		now, now,
	)
	return err
}

// ListFactorRules retrieves all factor rules for a tenant, enabled or not.
func (r *SQLRepository) ListFactorRules(ctx context.Context, tenantID string) ([]*domain.FactorRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, field, impact, weight, enabled, created_at, updated_at
		FROM factor_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FactorRule
	for rows.Next() {
		var rule domain.FactorRule
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description,
			&rule.Condition, &rule.Field, &rule.Impact, &rule.Weight, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := int64(0)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			out = append(out, query[i])
			continue
		}
		n++
		out = append(out, '$')
		out = strconv.AppendInt(out, n, 10)
	}
	return string(out)
}
