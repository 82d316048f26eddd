package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// GradientBoosting is a binary classifier built from an additive ensemble of
// regression trees fitted to the logistic loss with second-order leaf weights.
type GradientBoosting struct {
	Config     domain.ClassifierConfig `json:"config"`
	BaseMargin float64                 `json:"baseMargin"`
	Trees      []Tree                  `json:"trees"`

	// Importance is the total split gain per feature, normalized to sum to 1.
	Importance []float64 `json:"importance"`
}

// FitGradientBoosting trains the classifier on X (rows of scaled features)
// and binary labels y.
func FitGradientBoosting(ctx context.Context, X [][]float64, y []int, cfg domain.ClassifierConfig, seed int64) (*GradientBoosting, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("%w: classifier needs a non-empty matrix with one label per row", domain.ErrTrainingData)
	}
	if cfg.NEstimators <= 0 || cfg.MaxDepth <= 0 || cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid classifier config: %+v", cfg)
	}
	if cfg.Subsample <= 0 || cfg.Subsample > 1 {
		cfg.Subsample = 1
	}
	if cfg.MaxBins == 0 {
		cfg.MaxBins = 64
	}

	n := len(X)
	width := len(X[0])

	pos := 0
	for _, v := range y {
		pos += v
	}
	prior := clamp(float64(pos)/float64(n), 1e-6, 1-1e-6)

	m := &GradientBoosting{
		Config:     cfg,
		BaseMargin: math.Log(prior / (1 - prior)),
		Trees:      make([]Tree, 0, cfg.NEstimators),
	}

	hist := newHistogram(X, cfg.MaxBins)
	rng := rand.New(rand.NewSource(seed))

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = m.BaseMargin
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	gain := make([]float64, width)

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for t := 0; t < cfg.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range margin {
			p := sigmoid(margin[i])
			grad[i] = p - float64(y[i])
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		rows := all
		if cfg.Subsample < 1 {
			rows = make([]int, 0, int(float64(n)*cfg.Subsample)+1)
			for i := 0; i < n; i++ {
				if rng.Float64() < cfg.Subsample {
					rows = append(rows, i)
				}
			}
			if len(rows) == 0 {
				rows = all
			}
		}

		b := &treeBuilder{hist: hist, grad: grad, hess: hess, cfg: cfg, gain: gain}
		b.grow(rows, 0)
		tree := Tree{Nodes: b.nodes}
		m.Trees = append(m.Trees, tree)

		for i := range margin {
			margin[i] += tree.Predict(X[i])
		}
	}

	total := 0.0
	for _, g := range gain {
		total += g
	}
	m.Importance = make([]float64, width)
	if total > 0 {
		for j, g := range gain {
			m.Importance[j] = g / total
		}
	}
	return m, nil
}

// Margin returns the raw log-odds for x.
func (m *GradientBoosting) Margin(x []float64) float64 {
	s := m.BaseMargin
	for i := range m.Trees {
		s += m.Trees[i].Predict(x)
	}
	return s
}

// Probability returns P(fraud | x).
func (m *GradientBoosting) Probability(x []float64) float64 {
	return sigmoid(m.Margin(x))
}

// FeatureImportance returns the normalized gain per feature.
func (m *GradientBoosting) FeatureImportance() []float64 {
	return append([]float64(nil), m.Importance...)
}

// Kind implements Scorer.
func (m *GradientBoosting) Kind() Kind { return Supervised }

// Score implements Scorer.
func (m *GradientBoosting) Score(x []float64) float64 { return m.Probability(x) }

// treeBuilder grows one tree greedily on histogram bins.
type treeBuilder struct {
	hist  *histogram
	grad  []float64
	hess  []float64
	cfg   domain.ClassifierConfig
	gain  []float64
	nodes []Node
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	var G, H float64
	for _, r := range rows {
		G += b.grad[r]
		H += b.hess[r]
	}
	leaf := Node{Leaf: true, Value: -G / (H + b.cfg.Lambda) * b.cfg.LearningRate}

	if depth >= b.cfg.MaxDepth || len(rows) < 2 {
		b.nodes[idx] = leaf
		return idx
	}

	parent := G * G / (H + b.cfg.Lambda)
	bestGain, bestFeature, bestBin := 0.0, -1, 0

	for f, edges := range b.hist.edges {
		nb := len(edges)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		col := b.hist.bins[f]
		for _, r := range rows {
			k := col[r]
			hg[k] += b.grad[r]
			hh[k] += b.hess[r]
		}

		var gl, hl float64
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			if hl < b.cfg.MinChildWeight {
				continue
			}
			hr := H - hl
			if hr < b.cfg.MinChildWeight {
				break
			}
			gr := G - gl
			g := 0.5 * (gl*gl/(hl+b.cfg.Lambda) + gr*gr/(hr+b.cfg.Lambda) - parent)
			if g > bestGain {
				bestGain, bestFeature, bestBin = g, f, k
			}
		}
	}

	if bestFeature < 0 {
		b.nodes[idx] = leaf
		return idx
	}

	col := b.hist.bins[bestFeature]
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if int(col[r]) <= bestBin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		b.nodes[idx] = leaf
		return idx
	}

	b.gain[bestFeature] += bestGain
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{
		Feature:   bestFeature,
		Threshold: b.hist.edges[bestFeature][bestBin],
		Left:      l,
		Right:     r,
	}
	return idx
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
