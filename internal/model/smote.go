package model

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// SMOTE balances a binary dataset by synthesizing minority samples on the
// segments between each minority point and one of its k nearest minority
// neighbors. The returned matrix holds the original rows followed by the
// synthetic ones; the minority count is raised to the majority count.
func SMOTE(X [][]float64, y []int, k int, seed int64) ([][]float64, []int, error) {
	if len(X) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d rows but %d labels", domain.ErrTrainingData, len(X), len(y))
	}

	var minority, majority []int
	pos, neg := splitByLabel(y)
	minLabel := 1
	if len(pos) <= len(neg) {
		minority, majority = pos, neg
	} else {
		minority, majority, minLabel = neg, pos, 0
	}

	outX := append(make([][]float64, 0, 2*len(majority)), X...)
	outY := append(make([]int, 0, 2*len(majority)), y...)

	need := len(majority) - len(minority)
	if need == 0 {
		return outX, outY, nil
	}
	if len(minority) < 2 {
		return nil, nil, fmt.Errorf("%w: oversampling needs at least 2 minority rows, got %d", domain.ErrTrainingData, len(minority))
	}
	if k <= 0 {
		k = 5
	}
	k = min(k, len(minority)-1)

	neighbors := nearestNeighbors(X, minority, k)
	rng := rand.New(rand.NewSource(seed))

	for s := 0; s < need; s++ {
		i := rng.Intn(len(minority))
		base := X[minority[i]]
		other := X[neighbors[i][rng.Intn(k)]]
		gap := rng.Float64()

		synth := make([]float64, len(base))
		for j := range base {
			synth[j] = base[j] + gap*(other[j]-base[j])
		}
		outX = append(outX, synth)
		outY = append(outY, minLabel)
	}
	return outX, outY, nil
}

// nearestNeighbors returns, for each row in idx, the k nearest other rows of
// idx by Euclidean distance. Ties resolve to the lower row index.
func nearestNeighbors(X [][]float64, idx []int, k int) [][]int {
	out := make([][]int, len(idx))
	type cand struct {
		row  int
		dist float64
	}
	cands := make([]cand, 0, len(idx))

	for a, ra := range idx {
		cands = cands[:0]
		for b, rb := range idx {
			if a == b {
				continue
			}
			cands = append(cands, cand{row: rb, dist: squaredDistance(X[ra], X[rb])})
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].dist != cands[j].dist {
				return cands[i].dist < cands[j].dist
			}
			return cands[i].row < cands[j].row
		})
		nn := make([]int, k)
		for i := 0; i < k; i++ {
			nn[i] = cands[i].row
		}
		out[a] = nn
	}
	return out
}

func squaredDistance(a, b []float64) float64 {
	s := 0.0
	for j := range a {
		d := a[j] - b[j]
		s += d * d
	}
	return s
}

func splitByLabel(y []int) (pos, neg []int) {
	for i, v := range y {
		if v == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	return pos, neg
}
