// Package model implements the learners of the hybrid scoring engine: a
// gradient-boosted tree classifier trained on labeled history and an
// isolation forest that flags statistically unusual transactions without
// labels. Both expose the Scorer capability so they can be fused.
package model

// Kind distinguishes the two learner families.
type Kind int

const (
	// Supervised learners are trained on fraud labels.
	Supervised Kind = iota

	// Anomaly learners ignore labels and score outlyingness.
	Anomaly
)

func (k Kind) String() string {
	switch k {
	case Supervised:
		return "supervised"
	case Anomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// Scorer maps a scaled feature vector to a fraud probability in [0,1].
type Scorer interface {
	Kind() Kind
	Score(vec []float64) float64
}

var (
	_ Scorer = (*GradientBoosting)(nil)
	_ Scorer = (*IsolationForest)(nil)
)
