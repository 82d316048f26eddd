// Package artifact bundles a fitted feature pipeline with both scorers into a
// single immutable, persistable unit.
package artifact

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/model"
	"github.com/opensource-finance/fraudguard/internal/policy"
)

// Artifact is a trained model snapshot. It is never mutated once built;
// replacing the served model means swapping the pointer.
type Artifact struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Features  []string  `json:"features"`

	Pipeline   *features.Pipeline      `json:"pipeline"`
	Classifier *model.GradientBoosting `json:"classifier"`
	Anomaly    *model.IsolationForest  `json:"anomaly"`

	Report            *domain.PerformanceReport `json:"report,omitempty"`
	FeatureImportance map[string]float64        `json:"featureImportance"`
}

// New assembles an artifact with a fresh ID. Feature importances are keyed by
// the pipeline's feature names.
func New(p *features.Pipeline, clf *model.GradientBoosting, iso *model.IsolationForest) *Artifact {
	a := &Artifact{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		Features:   slices.Clone(p.Features),
		Pipeline:   p,
		Classifier: clf,
		Anomaly:    iso,
	}
	a.FeatureImportance = make(map[string]float64, len(p.Features))
	for i, v := range clf.FeatureImportance() {
		if i < len(p.Features) {
			a.FeatureImportance[p.Features[i]] = v
		}
	}
	return a
}

// Validate checks that every component is present and that the stored feature
// ordering matches what this build computes.
func (a *Artifact) Validate() error {
	if a == nil || a.Classifier == nil || a.Anomaly == nil {
		return fmt.Errorf("%w: artifact is incomplete", domain.ErrUninitializedModel)
	}
	if len(a.Classifier.Trees) == 0 || len(a.Anomaly.Trees) == 0 {
		return fmt.Errorf("%w: artifact has no trees", domain.ErrUninitializedModel)
	}
	if !slices.Equal(a.Features, features.Names) {
		return fmt.Errorf("%w: artifact features %v do not match %v", domain.ErrSchemaMismatch, a.Features, features.Names)
	}
	return a.Pipeline.Validate()
}

// Vector returns the scaled feature vector for tx.
func (a *Artifact) Vector(tx *domain.Transaction) ([]float64, error) {
	if a == nil {
		return nil, domain.ErrUninitializedModel
	}
	return a.Pipeline.Transform(tx)
}

// Score runs the full hybrid scoring path for one record.
func (a *Artifact) Score(tx *domain.Transaction) (*domain.Prediction, error) {
	vec, err := a.Vector(tx)
	if err != nil {
		return nil, err
	}

	scorers := [...]model.Scorer{a.Classifier, a.Anomaly}
	var components [2]float64
	for i, s := range scorers {
		components[i] = s.Score(vec)
	}

	d, err := policy.Decide(components[0], components[1])
	if err != nil {
		return nil, err
	}
	return &domain.Prediction{
		FraudScore:       d.FraudScore,
		ClassifierScore:  components[0],
		AnomalyScore:     components[1],
		AnomalyDecision:  a.Anomaly.Decision(vec),
		RiskLevel:        d.RiskLevel,
		Action:           d.Action,
		IsFraudPredicted: d.IsFraudPredicted,
		ArtifactID:       a.ID,
	}, nil
}

// TopFeatures returns up to n feature names ordered by descending importance.
func (a *Artifact) TopFeatures(n int) []FeatureWeight {
	out := make([]FeatureWeight, 0, len(a.FeatureImportance))
	for name, w := range a.FeatureImportance {
		out = append(out, FeatureWeight{Feature: name, Importance: w})
	}
	slices.SortFunc(out, func(x, y FeatureWeight) int {
		switch {
		case x.Importance > y.Importance:
			return -1
		case x.Importance < y.Importance:
			return 1
		}
		if x.Feature < y.Feature {
			return -1
		}
		return 1
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FeatureWeight pairs a feature name with its importance.
type FeatureWeight struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}
