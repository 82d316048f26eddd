package domain

import (
	"time"
)

// Strategy names a scoring strategy evaluated during training.
type Strategy string

const (
	StrategyClassifier Strategy = "classifier"
	StrategyAnomaly    Strategy = "anomaly"
	StrategyHybrid     Strategy = "hybrid"
)

// ConfusionMatrix counts binary outcomes against the true labels.
type ConfusionMatrix struct {
	TruePositives  int `json:"tp"`
	FalsePositives int `json:"fp"`
	TrueNegatives  int `json:"tn"`
	FalseNegatives int `json:"fn"`
}

// StrategyMetrics holds the held-out metrics of one scoring strategy.
type StrategyMetrics struct {
	AUC               float64         `json:"auc"`
	Precision         float64         `json:"precision"`
	Recall            float64         `json:"recall"`
	F1                float64         `json:"f1"`
	Specificity       float64         `json:"specificity"`
	FalsePositiveRate float64         `json:"falsePositiveRate"`
	Confusion         ConfusionMatrix `json:"confusion"`
}

// ClassBalance summarises the label distribution of a split.
type ClassBalance struct {
	Legitimate int     `json:"legitimate"`
	Fraud      int     `json:"fraud"`
	Prevalence float64 `json:"prevalence"`
}

// NewClassBalance counts labels.
func NewClassBalance(labels []int) ClassBalance {
	var b ClassBalance
	for _, y := range labels {
		if y == 1 {
			b.Fraud++
		} else {
			b.Legitimate++
		}
	}
	if total := b.Fraud + b.Legitimate; total > 0 {
		b.Prevalence = float64(b.Fraud) / float64(total)
	}
	return b
}

// PerformanceReport is produced by a training run and stored in the artifact.
type PerformanceReport struct {
	ArtifactID string    `json:"artifactId"`
	TrainedAt  time.Time `json:"trainedAt"`
	DurationMs int64     `json:"durationMs"`

	Rows         int `json:"rows"`
	FeatureCount int `json:"featureCount"`

	// TrainingBalance is the training split before minority oversampling,
	// ResampledBalance the same split after it.
	TrainingBalance   ClassBalance `json:"trainingBalance"`
	ResampledBalance  ClassBalance `json:"resampledBalance"`
	EvaluationBalance ClassBalance `json:"evaluationBalance"`

	Strategies map[Strategy]StrategyMetrics `json:"strategies"`

	FeatureImportance map[string]float64 `json:"featureImportance"`
}

// Training run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// TrainingRun records one training attempt.
type TrainingRun struct {
	ID         string             `json:"id"`
	ArtifactID string             `json:"artifactId,omitempty"`
	Source     string             `json:"source"`
	Status     string             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Report     *PerformanceReport `json:"report,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt,omitzero"`
}
