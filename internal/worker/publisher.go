package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Publisher announces served predictions on the bus. Every prediction yields
// a decision event; ALERT and BLOCK decisions also yield an alert carrying
// the user's alert count for the current window.
type Publisher struct {
	bus   domain.EventBus
	cache domain.Cache
}

// NewPublisher creates a publisher. bus and cache may be nil.
func NewPublisher(bus domain.EventBus, cache domain.Cache) *Publisher {
	return &Publisher{bus: bus, cache: cache}
}

// Publish sends the decision and, when fraud is predicted, the alert.
// Failures are logged; a prediction has already been served by then.
func (p *Publisher) Publish(ctx context.Context, tenantID string, rec *domain.PredictionRecord) {
	if p == nil || p.bus == nil {
		return
	}

	payload, _ := json.Marshal(rec)
	if err := p.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", rec.TransactionID,
			"error", err,
		)
	}

	if rec.IsFraudPredicted {
		p.alert(ctx, tenantID, rec)
	}
}

func (p *Publisher) alert(ctx context.Context, tenantID string, rec *domain.PredictionRecord) {
	alert := domain.AlertEvent{Prediction: *rec, AlertsInWindow: 1}

	if p.cache != nil && rec.UserID != "" {
		n, err := p.cache.CountAlert(ctx, tenantID, rec.UserID, AlertWindow)
		if err != nil {
			slog.Warn("failed to count alert",
				"user_id", rec.UserID,
				"error", err,
			)
		} else {
			alert.AlertsInWindow = n
		}
	}

	payload, _ := json.Marshal(alert)
	if err := p.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
		slog.Error("failed to publish alert",
			"tx_id", rec.TransactionID,
			"error", err,
		)
	}
}
