package domain

import (
	"time"
)

// RiskLevel is the discrete risk bucket derived from a fraud score.
type RiskLevel string

const (
	RiskMinimal RiskLevel = "MINIMAL"
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
)

// Rank orders risk levels from MINIMAL (0) to HIGH (3).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Action is the recommended downstream handling, tied 1:1 to RiskLevel.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionMonitor Action = "MONITOR"
	ActionAlert   Action = "ALERT"
	ActionBlock   Action = "BLOCK"
)

// ShouldAlert reports whether the action requires analyst attention.
func (a Action) ShouldAlert() bool {
	return a == ActionAlert || a == ActionBlock
}

// Prediction is the deterministic output of scoring one record against one
// artifact. Identical (artifact, record) pairs always yield equal predictions.
type Prediction struct {
	FraudScore      float64 `json:"fraudScore"`
	ClassifierScore float64 `json:"classifierScore"`
	AnomalyScore    float64 `json:"anomalyScore"`

	// AnomalyDecision is the raw isolation-forest decision value.
	// Negative means anomalous.
	AnomalyDecision float64 `json:"anomalyDecision"`

	RiskLevel RiskLevel `json:"riskLevel"`
	Action    Action    `json:"action"`

	// IsFraudPredicted is advisory: it is true exactly when RiskLevel is
	// MEDIUM or HIGH.
	IsFraudPredicted bool `json:"isFraudPredicted"`

	ArtifactID string `json:"artifactId"`
}

// PredictionRecord is a prediction as served and persisted by the API layer.
type PredictionRecord struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId,omitempty"`

	Prediction

	ProcessingMs float64   `json:"processingMs"`
	Timestamp    time.Time `json:"timestamp"`
}

// Thresholds are the lower bounds of the MEDIUM-and-above risk bands.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// Decision is the outcome of the threshold policy for one fused score.
type Decision struct {
	FraudScore       float64   `json:"fraudScore"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	Action           Action    `json:"action"`
	IsFraudPredicted bool      `json:"isFraudPredicted"`
}
