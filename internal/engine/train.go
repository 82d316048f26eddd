package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/evaluation"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/model"
	"github.com/opensource-finance/fraudguard/internal/policy"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

// MinClassRows is the fewest rows of each class Train accepts. The split
// needs at least two training rows of the minority class for oversampling
// and one held-out row.
const MinClassRows = 5

// Train fits a new artifact on ds, evaluates it on a stratified held-out
// split, persists it when a store is configured and then swaps it in. If any
// step fails the served artifact is left untouched.
func (s *Service) Train(ctx context.Context, ds *domain.Dataset) (*domain.PerformanceReport, error) {
	if err := ValidateDataset(ds); err != nil {
		telemetry.TrainingRunsTotal.WithLabelValues(domain.RunFailed).Inc()
		return nil, err
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	ctx, span := tracer.Start(ctx, "engine.Train")
	defer span.End()
	span.SetAttributes(
		attribute.Int("dataset.rows", ds.Len()),
		attribute.Int("dataset.positives", ds.Positives()),
	)

	a, err := s.fit(ctx, ds)
	if err == nil && s.store != nil {
		if err = s.store.Save(ctx, a); err != nil && !errors.Is(err, domain.ErrArtifactIO) {
			err = fmt.Errorf("%w: save artifact: %v", domain.ErrArtifactIO, err)
		}
	}
	if err == nil {
		err = s.Swap(a)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.TrainingRunsTotal.WithLabelValues(domain.RunFailed).Inc()
		return nil, err
	}

	telemetry.TrainingRunsTotal.WithLabelValues(domain.RunSucceeded).Inc()
	telemetry.TrainingDuration.Observe(float64(a.Report.DurationMs) / 1000)
	span.SetAttributes(attribute.String("artifact.id", a.ID))
	return a.Report, nil
}

// ValidateDataset rejects datasets that cannot be split and trained on.
func ValidateDataset(ds *domain.Dataset) error {
	if ds == nil || ds.Len() == 0 {
		return fmt.Errorf("%w: dataset is empty", domain.ErrTrainingData)
	}
	if len(ds.Labels) != len(ds.Records) {
		return fmt.Errorf("%w: %d records but %d labels", domain.ErrTrainingData, len(ds.Records), len(ds.Labels))
	}
	for i, y := range ds.Labels {
		if y != 0 && y != 1 {
			return fmt.Errorf("%w: row %d has label %d, expected 0 or 1", domain.ErrTrainingData, i, y)
		}
	}
	pos := ds.Positives()
	neg := ds.Len() - pos
	switch {
	case pos == 0:
		return fmt.Errorf("%w: dataset has no fraud labels", domain.ErrTrainingData)
	case neg == 0:
		return fmt.Errorf("%w: dataset has no legitimate labels", domain.ErrTrainingData)
	case pos < MinClassRows || neg < MinClassRows:
		return fmt.Errorf("%w: need at least %d rows per class, got %d fraud and %d legitimate", domain.ErrTrainingData, MinClassRows, pos, neg)
	}
	return nil
}

func (s *Service) fit(ctx context.Context, ds *domain.Dataset) (*artifact.Artifact, error) {
	start := time.Now()
	cfg := s.cfg

	trainIdx, testIdx, err := model.StratifiedSplit(ds.Labels, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	trainRecords, trainLabels := subset(ds, trainIdx)
	testRecords, testLabels := subset(ds, testIdx)

	pipeline, Xtrain, err := features.Fit(trainRecords)
	if err != nil {
		return nil, fmt.Errorf("fit features: %w", err)
	}

	iso, err := model.FitIsolationForest(ctx, Xtrain, cfg.Anomaly, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("fit anomaly scorer: %w", err)
	}

	Xres, yres, err := model.SMOTE(Xtrain, trainLabels, cfg.SMOTENeighbors, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("oversample: %w", err)
	}

	clf, err := model.FitGradientBoosting(ctx, Xres, yres, cfg.Classifier, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}

	a := artifact.New(pipeline, clf, iso)

	strategies, err := evaluate(a, testRecords, testLabels)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	a.Report = &domain.PerformanceReport{
		ArtifactID:        a.ID,
		TrainedAt:         a.CreatedAt,
		DurationMs:        time.Since(start).Milliseconds(),
		Rows:              ds.Len(),
		FeatureCount:      features.Width,
		TrainingBalance:   domain.NewClassBalance(trainLabels),
		ResampledBalance:  domain.NewClassBalance(yres),
		EvaluationBalance: domain.NewClassBalance(testLabels),
		Strategies:        strategies,
		FeatureImportance: a.FeatureImportance,
	}

	slog.Info("model trained",
		"artifact_id", a.ID,
		"rows", ds.Len(),
		"train_rows", len(trainIdx),
		"resampled_rows", len(yres),
		"eval_rows", len(testIdx),
		"hybrid_auc", strategies[domain.StrategyHybrid].AUC,
		"duration_ms", a.Report.DurationMs,
	)
	return a, nil
}

// evaluate scores the held-out split with each strategy. All three use the
// 0.5 cut: for the anomaly strategy that is the contamination boundary.
func evaluate(a *artifact.Artifact, records []domain.Transaction, labels []int) (map[domain.Strategy]domain.StrategyMetrics, error) {
	n := len(records)
	clf := make([]float64, n)
	anom := make([]float64, n)
	hybrid := make([]float64, n)

	for i := range records {
		vec, err := a.Vector(&records[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		clf[i] = a.Classifier.Score(vec)
		anom[i] = a.Anomaly.Score(vec)
		hybrid[i] = policy.Fuse(clf[i], anom[i])
	}

	cut := policy.DefaultThresholds().Medium
	return map[domain.Strategy]domain.StrategyMetrics{
		domain.StrategyClassifier: evaluation.Metrics(labels, clf, cut),
		domain.StrategyAnomaly:    evaluation.Metrics(labels, anom, cut),
		domain.StrategyHybrid:     evaluation.Metrics(labels, hybrid, cut),
	}, nil
}

func subset(ds *domain.Dataset, idx []int) ([]domain.Transaction, []int) {
	records := make([]domain.Transaction, len(idx))
	labels := make([]int, len(idx))
	for i, j := range idx {
		records[i] = ds.Records[j]
		labels[i] = ds.Labels[j]
	}
	return records, labels
}
