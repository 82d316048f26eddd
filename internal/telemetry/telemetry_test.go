package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func TestPredictionsCounter(t *testing.T) {
	PredictionsTotal.Reset()
	PredictionsTotal.WithLabelValues("HIGH").Inc()

	m := &dto.Metric{}
	counter, err := PredictionsTotal.GetMetricWithLabelValues("HIGH")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}

func TestMetricsRegistered(t *testing.T) {
	PredictionFailuresTotal.WithLabelValues("schema").Inc()
	TrainingRunsTotal.WithLabelValues(domain.RunSucceeded).Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"fraudguard_predictions_total",
		"fraudguard_prediction_failures_total",
		"fraudguard_training_runs_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := InitTracing(context.Background(), domain.TracingConfig{Enabled: false}, "test", logger)
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned %v", err)
	}
}
