// Package engine is the scoring service: it trains artifacts, serves
// predictions from the current one and swaps in replacements atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

var tracer = otel.Tracer("fraudguard-engine")

// BatchResult is the outcome for one record of a batch. Exactly one of
// Prediction and Err is set.
type BatchResult struct {
	Prediction *domain.Prediction
	Err        error
}

// Stats summarises serving activity since the service was created.
type Stats struct {
	ModelLoaded      bool       `json:"modelLoaded"`
	ArtifactID       string     `json:"artifactId,omitempty"`
	TotalPredictions int64      `json:"totalPredictions"`
	Failures         int64      `json:"failures"`
	AvgProcessingMs  float64    `json:"avgProcessingMs"`
	LastPrediction   *time.Time `json:"lastPrediction,omitempty"`
}

// Service owns the current artifact. Scoring reads it without locks; training
// is serialized and publishes its result with a single pointer swap.
type Service struct {
	cfg   domain.ModelConfig
	store artifact.Store

	current atomic.Pointer[artifact.Artifact]
	trainMu sync.Mutex

	predictions atomic.Int64
	failures    atomic.Int64
	latencyNs   atomic.Int64
	lastNs      atomic.Int64
}

// New creates a service. store may be nil, in which case trained artifacts
// are only held in memory.
func New(cfg domain.ModelConfig, store artifact.Store) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Service{cfg: cfg, store: store}
}

// Config returns the model configuration.
func (s *Service) Config() domain.ModelConfig { return s.cfg }

// Current returns the served artifact, or nil.
func (s *Service) Current() *artifact.Artifact { return s.current.Load() }

// Ready reports whether an artifact is loaded.
func (s *Service) Ready() bool { return s.current.Load() != nil }

// Swap validates a and makes it the served artifact.
func (s *Service) Swap(a *artifact.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	prev := s.current.Swap(a)

	if a.Report != nil {
		for strategy, m := range a.Report.Strategies {
			telemetry.ModelAUC.WithLabelValues(string(strategy)).Set(m.AUC)
		}
	}
	if prev != nil {
		slog.Info("artifact swapped", "previous", prev.ID, "current", a.ID)
	} else {
		slog.Info("artifact loaded", "artifact_id", a.ID)
	}
	return nil
}

// Predict scores one record against the current artifact.
func (s *Service) Predict(ctx context.Context, tx domain.Transaction) (*domain.Prediction, error) {
	a := s.current.Load()
	if a == nil {
		s.recordFailure(domain.ErrUninitializedModel)
		return nil, fmt.Errorf("%w: no artifact loaded", domain.ErrUninitializedModel)
	}

	_, span := tracer.Start(ctx, "engine.Predict")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.id", a.ID),
		attribute.String("transaction.id", tx.TransactionID),
	)

	p, err := s.score(a, &tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("fraud.score", p.FraudScore),
		attribute.String("risk.level", string(p.RiskLevel)),
	)
	return p, nil
}

// PredictBatch scores records concurrently against a single artifact
// snapshot. Each result equals what Predict would return for that record;
// a failing record never affects the others.
func (s *Service) PredictBatch(ctx context.Context, txs []domain.Transaction) ([]BatchResult, error) {
	a := s.current.Load()
	if a == nil {
		s.recordFailure(domain.ErrUninitializedModel)
		return nil, fmt.Errorf("%w: no artifact loaded", domain.ErrUninitializedModel)
	}

	ctx, span := tracer.Start(ctx, "engine.PredictBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.id", a.ID),
		attribute.Int("batch.size", len(txs)),
	)

	results := make([]BatchResult, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			p, err := s.score(a, &txs[i])
			results[i] = BatchResult{Prediction: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *Service) score(a *artifact.Artifact, tx *domain.Transaction) (*domain.Prediction, error) {
	start := time.Now()
	p, err := a.Score(tx)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	elapsed := time.Since(start)

	s.predictions.Add(1)
	s.latencyNs.Add(int64(elapsed))
	s.lastNs.Store(time.Now().UnixNano())
	telemetry.PredictionsTotal.WithLabelValues(string(p.RiskLevel)).Inc()
	telemetry.PredictionDuration.Observe(elapsed.Seconds())
	return p, nil
}

func (s *Service) recordFailure(err error) {
	s.failures.Add(1)
	telemetry.PredictionFailuresTotal.WithLabelValues(FailureReason(err)).Inc()
}

// FailureReason classifies err into a short metric label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUninitializedModel):
		return "uninitialized"
	case errors.Is(err, domain.ErrSchemaMismatch):
		return "schema"
	case errors.Is(err, domain.ErrArtifactIO):
		return "artifact_io"
	case errors.Is(err, domain.ErrTrainingData):
		return "training_data"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Persist writes the current artifact to the store.
func (s *Service) Persist(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("%w: no artifact store configured", domain.ErrArtifactIO)
	}
	a := s.current.Load()
	if a == nil {
		return fmt.Errorf("%w: nothing to persist", domain.ErrUninitializedModel)
	}
	return s.store.Save(ctx, a)
}

// Restore loads the stored artifact and swaps it in. On any failure the
// previously served artifact is kept.
func (s *Service) Restore(ctx context.Context) (*artifact.Artifact, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: no artifact store configured", domain.ErrArtifactIO)
	}
	a, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Swap(a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactIO, err)
	}
	return a, nil
}

// Stats returns a snapshot of serving counters.
func (s *Service) Stats() Stats {
	st := Stats{
		TotalPredictions: s.predictions.Load(),
		Failures:         s.failures.Load(),
	}
	if a := s.current.Load(); a != nil {
		st.ModelLoaded = true
		st.ArtifactID = a.ID
	}
	if st.TotalPredictions > 0 {
		st.AvgProcessingMs = float64(s.latencyNs.Load()) / float64(st.TotalPredictions) / float64(time.Millisecond)
	}
	if ns := s.lastNs.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		st.LastPrediction = &t
	}
	return st
}
