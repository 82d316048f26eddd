// Package policy fuses component scores and maps the result onto risk bands.
package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// ErrNonFiniteScore is returned by Decide when a component score is NaN.
// Such a score has no band and must not fall through to APPROVE.
var ErrNonFiniteScore = errors.New("non-finite risk score")

// DefaultThresholds are the band lower bounds. Each bound is inclusive.
func DefaultThresholds() domain.Thresholds {
	return domain.Thresholds{High: 0.8, Medium: 0.5, Low: 0.2}
}

// Fuse averages the classifier probability and the anomaly probability.
// A NaN component yields NaN.
func Fuse(classifier, anomaly float64) float64 {
	return clamp01((classifier + anomaly) / 2)
}

// Classify maps a score to its risk level and action, checking bands from
// high to low.
func Classify(score float64) (domain.RiskLevel, domain.Action) {
	th := DefaultThresholds()
	switch {
	case score >= th.High:
		return domain.RiskHigh, domain.ActionBlock
	case score >= th.Medium:
		return domain.RiskMedium, domain.ActionAlert
	case score >= th.Low:
		return domain.RiskLow, domain.ActionMonitor
	default:
		return domain.RiskMinimal, domain.ActionApprove
	}
}

// Decide fuses both component scores and applies the bands. The binary flag
// is set for MEDIUM and HIGH.
func Decide(classifier, anomaly float64) (domain.Decision, error) {
	score := Fuse(classifier, anomaly)
	if math.IsNaN(score) {
		return domain.Decision{}, fmt.Errorf("%w: classifier %v, anomaly %v", ErrNonFiniteScore, classifier, anomaly)
	}
	level, action := Classify(score)
	return domain.Decision{
		FraudScore:       score,
		RiskLevel:        level,
		Action:           action,
		IsFraudPredicted: level.Rank() >= domain.RiskMedium.Rank(),
	}, nil
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	return math.Max(0, math.Min(1, x))
}
