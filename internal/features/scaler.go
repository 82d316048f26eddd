package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Scaler standardizes feature vectors to zero mean and unit variance using
// statistics captured at fit time.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a unit std so they map to zero.
func FitScaler(matrix [][]float64) (*Scaler, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("%w: cannot fit scaler on an empty matrix", domain.ErrTrainingData)
	}
	width := len(matrix[0])
	mean := make([]float64, width)
	std := make([]float64, width)

	for _, row := range matrix {
		if len(row) != width {
			return nil, fmt.Errorf("%w: ragged feature matrix", domain.ErrSchemaMismatch)
		}
		for j, x := range row {
			mean[j] += x
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range matrix {
		for j, x := range row {
			d := x - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return &Scaler{Mean: mean, Std: std}, nil
}

// Fitted reports whether the scaler carries statistics.
func (s *Scaler) Fitted() bool {
	return s != nil && len(s.Mean) > 0 && len(s.Mean) == len(s.Std)
}

// Transform returns a standardized copy of vec.
func (s *Scaler) Transform(vec []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("%w: scaler has not been fitted", domain.ErrUninitializedModel)
	}
	if len(vec) != len(s.Mean) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", domain.ErrSchemaMismatch, len(s.Mean), len(vec))
	}
	out := make([]float64, len(vec))
	for j, x := range vec {
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}
