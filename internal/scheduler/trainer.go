// Package scheduler runs training jobs, on demand and on a cron schedule,
// and records each one as a training run.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Run sources.
const (
	SourceAPI       = "api"
	SourceScheduler = "scheduler"
	SourceStartup   = "startup"
)

// Engine is the part of the scoring service a training job drives.
type Engine interface {
	Train(ctx context.Context, ds *domain.Dataset) (*domain.PerformanceReport, error)
}

// Trainer trains the engine and records the outcome. repo and bus may be nil.
type Trainer struct {
	engine      Engine
	repo        domain.Repository
	bus         domain.EventBus
	datasetPath string
}

// NewTrainer creates a trainer that reads its dataset from datasetPath.
func NewTrainer(engine Engine, repo domain.Repository, bus domain.EventBus, datasetPath string) *Trainer {
	return &Trainer{
		engine:      engine,
		repo:        repo,
		bus:         bus,
		datasetPath: datasetPath,
	}
}

// DatasetPath returns the CSV the trainer reads.
func (t *Trainer) DatasetPath() string { return t.datasetPath }

// Run loads the configured dataset and trains on it.
func (t *Trainer) Run(ctx context.Context, source string) (*domain.TrainingRun, error) {
	run := t.begin(ctx, source)
	ds, err := dataset.LoadCSV(t.datasetPath)
	if err != nil {
		return run, t.finish(ctx, run, nil, err)
	}
	return run, t.train(ctx, run, ds)
}

// RunDataset trains on ds. The returned run is recorded whether or not
// training succeeds; the error is the training error.
func (t *Trainer) RunDataset(ctx context.Context, source string, ds *domain.Dataset) (*domain.TrainingRun, error) {
	run := t.begin(ctx, source)
	return run, t.train(ctx, run, ds)
}

func (t *Trainer) train(ctx context.Context, run *domain.TrainingRun, ds *domain.Dataset) error {
	report, err := t.engine.Train(ctx, ds)
	return t.finish(ctx, run, report, err)
}

// begin records the run as running so that it shows up while training.
func (t *Trainer) begin(ctx context.Context, source string) *domain.TrainingRun {
	run := &domain.TrainingRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    domain.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if t.repo != nil {
		if err := t.repo.SaveTrainingRun(ctx, run); err != nil {
			slog.Error("failed to record training run", "run_id", run.ID, "error", err)
		}
	}
	return run
}

func (t *Trainer) finish(ctx context.Context, run *domain.TrainingRun, report *domain.PerformanceReport, trainErr error) error {
	run.FinishedAt = time.Now().UTC()
	if trainErr != nil {
		run.Status = domain.RunFailed
		run.Error = trainErr.Error()
		slog.Error("training run failed",
			"run_id", run.ID,
			"source", run.Source,
			"error", trainErr,
		)
	} else {
		run.Status = domain.RunSucceeded
		run.ArtifactID = report.ArtifactID
		run.Report = report
		slog.Info("training run succeeded",
			"run_id", run.ID,
			"source", run.Source,
			"artifact_id", report.ArtifactID,
			"duration_ms", report.DurationMs,
		)
	}

	if t.repo != nil {
		if err := t.repo.SaveTrainingRun(ctx, run); err != nil {
			slog.Error("failed to save training run", "run_id", run.ID, "error", err)
		}
	}

	if trainErr == nil && t.bus != nil {
		payload, _ := json.Marshal(domain.ModelPublished{
			ArtifactID: run.ArtifactID,
			RunID:      run.ID,
			Source:     run.Source,
		})
		if err := t.bus.Publish(ctx, domain.GlobalTenantID, domain.TopicModelPublished, payload); err != nil {
			slog.Error("failed to announce artifact", "artifact_id", run.ArtifactID, "error", err)
		}
	}

	if trainErr != nil {
		return fmt.Errorf("training run %s: %w", run.ID, trainErr)
	}
	return nil
}
