package model

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// separable returns n rows where label 1 iff x0 > 0.5; x1 is noise.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		x0 := rng.Float64()
		X[i] = []float64{x0, rng.Float64()}
		if x0 > 0.5 {
			y[i] = 1
		}
	}
	return X, y
}

func smallClassifier() domain.ClassifierConfig {
	cfg := domain.DefaultModelConfig().Classifier
	cfg.NEstimators = 30
	cfg.MaxDepth = 3
	cfg.LearningRate = 0.3
	return cfg
}

func TestGradientBoosting(t *testing.T) {
	X, y := separable(400, 1)

	m, err := FitGradientBoosting(context.Background(), X, y, smallClassifier(), 42)
	require.NoError(t, err)
	require.Len(t, m.Trees, 30)

	t.Run("LearnsSeparableBoundary", func(t *testing.T) {
		assert.Greater(t, m.Probability([]float64{0.9, 0.3}), 0.9)
		assert.Less(t, m.Probability([]float64{0.1, 0.3}), 0.1)
	})

	t.Run("ImportanceFavorsSignal", func(t *testing.T) {
		require.Len(t, m.Importance, 2)
		assert.InDelta(t, 1.0, m.Importance[0]+m.Importance[1], 1e-9)
		assert.Greater(t, m.Importance[0], m.Importance[1])
	})

	t.Run("ScoreIsProbability", func(t *testing.T) {
		x := []float64{0.7, 0.2}
		assert.Equal(t, Supervised, m.Kind())
		assert.Equal(t, m.Probability(x), m.Score(x))
		p := m.Score(x)
		assert.True(t, p >= 0 && p <= 1)
	})

	t.Run("Deterministic", func(t *testing.T) {
		again, err := FitGradientBoosting(context.Background(), X, y, smallClassifier(), 42)
		require.NoError(t, err)
		assert.Equal(t, m.Trees, again.Trees)
	})

	t.Run("EmptyMatrix", func(t *testing.T) {
		_, err := FitGradientBoosting(context.Background(), nil, nil, smallClassifier(), 42)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := FitGradientBoosting(ctx, X, y, smallClassifier(), 42)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsolationForest(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 500)
	for i := range X {
		X[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	cfg := domain.DefaultModelConfig().Anomaly

	f, err := FitIsolationForest(context.Background(), X, cfg, 42)
	require.NoError(t, err)
	require.Len(t, f.Trees, cfg.NEstimators)
	assert.Equal(t, 256, f.SampleSize)

	outlier := []float64{8, -8, 8}
	center := []float64{0, 0, 0}

	t.Run("FlagsOutlier", func(t *testing.T) {
		assert.Less(t, f.Decision(outlier), 0.0)
		assert.Greater(t, f.Probability(outlier), 0.5)
	})

	t.Run("CenterIsNormal", func(t *testing.T) {
		assert.Greater(t, f.Decision(center), 0.0)
		assert.Less(t, f.Probability(center), 0.5)
		assert.Greater(t, f.Probability(outlier), f.Probability(center))
	})

	t.Run("ContaminationFraction", func(t *testing.T) {
		flagged := 0
		for _, x := range X {
			if f.Decision(x) < 0 {
				flagged++
			}
		}
		assert.InDelta(t, float64(len(X))*cfg.Contamination, float64(flagged), 2)
	})

	t.Run("DeterministicAcrossRuns", func(t *testing.T) {
		again, err := FitIsolationForest(context.Background(), X, cfg, 42)
		require.NoError(t, err)
		assert.Equal(t, f.Offset, again.Offset)
		assert.Equal(t, f.ScoreSamples(outlier), again.ScoreSamples(outlier))
	})

	t.Run("SampleSizeCappedByRows", func(t *testing.T) {
		small, err := FitIsolationForest(context.Background(), X[:50], cfg, 42)
		require.NoError(t, err)
		assert.Equal(t, 50, small.SampleSize)
	})

	t.Run("TooFewRows", func(t *testing.T) {
		_, err := FitIsolationForest(context.Background(), X[:1], cfg, 42)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
	})
}

func TestDecisionProbability(t *testing.T) {
	assert.Equal(t, 0.5, DecisionProbability(0, 20))
	assert.Greater(t, DecisionProbability(-0.1, 20), 0.5)
	assert.Less(t, DecisionProbability(0.1, 20), 0.5)
	assert.False(t, math.IsNaN(DecisionProbability(-100, 20)))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 3.0, percentile(values, 0.5))
	assert.Equal(t, 5.0, percentile(values, 1))
	assert.InDelta(t, 1.08, percentile(values, 0.02), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values, "input must not be reordered")
}

func TestSMOTE(t *testing.T) {
	X := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1}, {0.5, 0.5}, {0.2, 0.8}, {0.9, 0.1}, {0.3, 0.3},
		{10, 10}, {11, 11}, {12, 10},
	}
	y := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1}

	outX, outY, err := SMOTE(X, y, 5, 42)
	require.NoError(t, err)
	require.Len(t, outX, 16)
	require.Len(t, outY, 16)

	pos := 0
	for _, v := range outY {
		pos += v
	}
	assert.Equal(t, 8, pos)

	t.Run("OriginalsFirst", func(t *testing.T) {
		assert.Equal(t, X, outX[:len(X)])
		assert.Equal(t, y, outY[:len(y)])
	})

	t.Run("SyntheticInsideMinorityHull", func(t *testing.T) {
		for _, row := range outX[len(X):] {
			assert.GreaterOrEqual(t, row[0], 10.0)
			assert.LessOrEqual(t, row[0], 12.0)
			assert.GreaterOrEqual(t, row[1], 10.0)
			assert.LessOrEqual(t, row[1], 11.0)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		againX, againY, err := SMOTE(X, y, 5, 42)
		require.NoError(t, err)
		assert.Equal(t, outX, againX)
		assert.Equal(t, outY, againY)
	})

	t.Run("AlreadyBalanced", func(t *testing.T) {
		bx, by, err := SMOTE([][]float64{{0}, {1}}, []int{0, 1}, 5, 42)
		require.NoError(t, err)
		assert.Len(t, bx, 2)
		assert.Equal(t, []int{0, 1}, by)
	})

	t.Run("SingleMinorityRow", func(t *testing.T) {
		_, _, err := SMOTE([][]float64{{0}, {1}, {2}}, []int{0, 0, 1}, 5, 42)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
	})
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 2000)
	for i := 0; i < 40; i++ {
		y[i*50] = 1
	}

	train, test, err := StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 400)
	assert.Len(t, train, 1600)

	count := func(idx []int) int {
		n := 0
		for _, i := range idx {
			n += y[i]
		}
		return n
	}
	assert.Equal(t, 8, count(test))
	assert.Equal(t, 32, count(train))

	t.Run("Disjoint", func(t *testing.T) {
		seen := make(map[int]bool, len(y))
		for _, i := range append(append([]int{}, train...), test...) {
			assert.False(t, seen[i], "index %d appears twice", i)
			seen[i] = true
		}
		assert.Len(t, seen, len(y))
	})

	t.Run("Deterministic", func(t *testing.T) {
		train2, test2, err := StratifiedSplit(y, 0.2, 42)
		require.NoError(t, err)
		assert.Equal(t, train, train2)
		assert.Equal(t, test, test2)
	})

	t.Run("TinyClassKeepsBothSides", func(t *testing.T) {
		labels := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}
		tr, te, err := StratifiedSplit(labels, 0.2, 42)
		require.NoError(t, err)
		assert.Equal(t, 1, countOf(labels, tr))
		assert.Equal(t, 1, countOf(labels, te))
	})

	t.Run("MissingClass", func(t *testing.T) {
		_, _, err := StratifiedSplit([]int{0, 0, 0, 0}, 0.2, 42)
		assert.ErrorIs(t, err, domain.ErrTrainingData)
	})

	t.Run("BadFraction", func(t *testing.T) {
		_, _, err := StratifiedSplit(y, 1.5, 42)
		assert.Error(t, err)
	})
}

func countOf(y, idx []int) int {
	n := 0
	for _, i := range idx {
		n += y[i]
	}
	return n
}
