package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

const eulerGamma = 0.5772156649015329

// IsolationNode is a node of an isolation tree. Leaves record how many
// training samples reached them.
type IsolationNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
	Leaf      bool    `json:"leaf,omitempty"`
}

// IsolationTree is one randomly partitioned tree.
type IsolationTree struct {
	Nodes []IsolationNode `json:"nodes"`
}

// IsolationForest scores how easily a point is isolated by random axis-aligned
// splits. Anomalies are isolated in fewer splits than normal points.
type IsolationForest struct {
	Config     domain.AnomalyConfig `json:"config"`
	SampleSize int                  `json:"sampleSize"`

	// Offset is the contamination quantile of the training scores. Decision
	// values below zero fall in the most anomalous Contamination fraction.
	Offset float64 `json:"offset"`

	Trees []IsolationTree `json:"trees"`
}

// FitIsolationForest builds the forest on X. Labels are never consulted.
// Trees are grown concurrently; tree i draws from its own source seeded with
// seed+i, so the result does not depend on scheduling.
func FitIsolationForest(ctx context.Context, X [][]float64, cfg domain.AnomalyConfig, seed int64) (*IsolationForest, error) {
	if len(X) < 2 {
		return nil, fmt.Errorf("%w: isolation forest needs at least 2 rows", domain.ErrTrainingData)
	}
	if cfg.NEstimators <= 0 {
		return nil, fmt.Errorf("invalid anomaly config: %+v", cfg)
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		return nil, fmt.Errorf("invalid anomaly config: contamination %v outside (0, 0.5)", cfg.Contamination)
	}
	if cfg.Steepness <= 0 {
		cfg.Steepness = 20
	}

	psi := cfg.MaxSamples
	if psi <= 0 {
		psi = 256
	}
	psi = min(psi, len(X))
	limit := int(math.Ceil(math.Log2(float64(psi))))

	f := &IsolationForest{
		Config:     cfg,
		SampleSize: psi,
		Trees:      make([]IsolationTree, cfg.NEstimators),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range f.Trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seed + int64(i)))
			sample := rng.Perm(len(X))[:psi]
			t := &IsolationTree{}
			t.grow(X, sample, 0, limit, rng)
			f.Trees[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]float64, len(X))
	for i, x := range X {
		scores[i] = f.ScoreSamples(x)
	}
	f.Offset = percentile(scores, cfg.Contamination)
	return f, nil
}

func (t *IsolationTree) grow(X [][]float64, rows []int, depth, limit int, rng *rand.Rand) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, IsolationNode{})

	if depth >= limit || len(rows) <= 1 {
		t.Nodes[idx] = IsolationNode{Leaf: true, Size: len(rows)}
		return idx
	}

	width := len(X[rows[0]])
	candidates := make([]int, 0, width)
	lo := make([]float64, width)
	hi := make([]float64, width)
	for j := 0; j < width; j++ {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			v := X[r][j]
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		t.Nodes[idx] = IsolationNode{Leaf: true, Size: len(rows)}
		return idx
	}

	feature := candidates[rng.Intn(len(candidates))]
	threshold := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := t.grow(X, left, depth+1, limit, rng)
	r := t.grow(X, right, depth+1, limit, rng)
	t.Nodes[idx] = IsolationNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

// pathLength is the isolation depth of x, corrected for the unresolved
// subtree below a leaf.
func (t *IsolationTree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// ScoreSamples returns the negated anomaly score -2^(-E[h(x)]/c(psi)).
// Values close to -1 are anomalous, values around -0.5 are normal.
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// Decision returns ScoreSamples shifted by the contamination offset.
// Lower values indicate stronger anomaly; negative values are outliers.
func (f *IsolationForest) Decision(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

// Probability squashes the decision value to [0,1] with a logistic curve
// oriented so that anomalies approach 1 and the contamination boundary sits
// at 0.5.
func (f *IsolationForest) Probability(x []float64) float64 {
	return DecisionProbability(f.Decision(x), f.Config.Steepness)
}

// DecisionProbability is the squash used by Probability.
func DecisionProbability(decision, steepness float64) float64 {
	return 1 / (1 + math.Exp(steepness*decision))
}

// Kind implements Scorer.
func (f *IsolationForest) Kind() Kind { return Anomaly }

// Score implements Scorer.
func (f *IsolationForest) Score(x []float64) float64 { return f.Probability(x) }

// averagePathLength is c(n), the mean unsuccessful-search path length of a
// binary search tree with n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile returns the q-quantile (0..1) of values with linear interpolation.
func percentile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
