// Package worker scores transactions that arrive on the event bus and keeps
// the served artifact in step with artifacts published by other nodes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudguard/internal/artifact"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/telemetry"
)

var tracer = otel.Tracer("fraudguard-worker")

// AlertWindow is the period over which alerts per user are counted.
const AlertWindow = 24 * time.Hour

// Scorer is the part of the scoring service the worker depends on.
type Scorer interface {
	Predict(ctx context.Context, tx domain.Transaction) (*domain.Prediction, error)
	Current() *artifact.Artifact
	Restore(ctx context.Context) (*artifact.Artifact, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	scorer    Scorer
	publisher *Publisher

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. repo and cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		scorer:    scorer,
		publisher: NewPublisher(bus, cache),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to ingested transactions for the configured tenants, or
// for every tenant when none are listed, and to model announcements.
func (w *Worker) Start(cfg domain.WorkerConfig) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenantID}
	}

	group := cfg.Group
	if group == "" {
		group = domain.DefaultWorkerGroup
	}

	for _, tenantID := range tenants {
		if err := w.subscribe(tenantID, domain.TopicTransactionIngested, group, w.processTransaction); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	// Every node restores announced artifacts, so no group here.
	if err := w.subscribe(domain.GlobalTenantID, domain.TopicModelPublished, "", w.processModelPublished); err != nil {
		return fmt.Errorf("subscribe to model announcements: %w", err)
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"group", group,
	)

	return nil
}

func (w *Worker) subscribe(tenantID, topic, group string, handler domain.MessageHandler) error {
	counted := func(ctx context.Context, msg *domain.Message) error {
		w.wg.Add(1)
		defer w.wg.Done()

		ctx, span := tracer.Start(ctx, "worker "+topic,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.ID),
				attribute.String("tenant.id", msg.TenantID),
			),
		)
		defer span.End()

		err := handler(ctx, msg)
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		telemetry.EventsProcessedTotal.WithLabelValues(topic, result).Inc()
		return err
	}

	var sub domain.Subscription
	var err error
	if group == "" {
		sub, err = w.bus.Subscribe(w.ctx, tenantID, topic, counted)
	} else {
		sub, err = w.bus.SubscribeGroup(w.ctx, tenantID, topic, group, counted)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker subscribed",
		"tenant_id", tenantID,
		"topic", topic,
	)
	return nil
}

// processTransaction scores one ingested record, stores the decision and
// publishes it. Predicted fraud is also published as an alert. A record that
// fails parsing or range checks is not scored.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var in domain.IngestedTransaction
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := in.TenantID
	if tenantID == "" {
		tenantID = msg.TenantID
	}

	tx, err := in.Record()
	if err != nil {
		slog.Warn("rejected ingested transaction",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	traceID := in.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing transaction",
		"tx_id", tx.TransactionID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	p, err := w.scorer.Predict(ctx, tx)
	if err != nil {
		slog.Error("scoring failed",
			"tx_id", tx.TransactionID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	rec := &domain.PredictionRecord{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Prediction:    *p,
		ProcessingMs:  float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.TransactionID,
				"error", err,
			)
		}
		if err := w.repo.SavePrediction(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save prediction",
				"tx_id", tx.TransactionID,
				"error", err,
			)
		}
	}

	w.publisher.Publish(ctx, tenantID, rec)

	slog.Info("transaction processed",
		"tx_id", tx.TransactionID,
		"tenant_id", tenantID,
		"risk_level", p.RiskLevel,
		"score", p.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// processModelPublished restores the announced artifact from the shared
// store unless it is already served.
func (w *Worker) processModelPublished(ctx context.Context, msg *domain.Message) error {
	var ev domain.ModelPublished
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("parse model announcement: %w", err)
	}

	if cur := w.scorer.Current(); cur != nil && cur.ID == ev.ArtifactID {
		return nil
	}

	a, err := w.scorer.Restore(ctx)
	if err != nil {
		slog.Error("failed to restore announced artifact",
			"artifact_id", ev.ArtifactID,
			"error", err,
		)
		return err
	}

	slog.Info("restored announced artifact",
		"artifact_id", a.ID,
		"announced", ev.ArtifactID,
		"source", ev.Source,
	)
	return nil
}

// Stop gracefully stops all workers and waits for in-flight messages.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
