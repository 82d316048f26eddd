package model

import (
	"sort"
)

// Node is one node of a binary decision tree stored in a flat slice.
// Samples with x[Feature] <= Threshold go Left.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf,omitempty"`
}

// Tree is a regression tree of the boosted ensemble.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// histogram bins every column of a matrix into at most maxBins quantile bins.
// Bin k holds values in (edges[k-1], edges[k]].
type histogram struct {
	edges [][]float64 // per feature, ascending
	bins  [][]uint16  // per feature, per row
}

func newHistogram(X [][]float64, maxBins int) *histogram {
	if maxBins < 2 {
		maxBins = 2
	}
	if maxBins > 1<<16 {
		maxBins = 1 << 16
	}
	n := len(X)
	width := len(X[0])
	h := &histogram{
		edges: make([][]float64, width),
		bins:  make([][]uint16, width),
	}

	col := make([]float64, n)
	for j := 0; j < width; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)

		edges := uniqueSorted(sorted)
		if len(edges) > maxBins {
			edges = edges[:0:0]
			for k := 0; k < maxBins; k++ {
				v := sorted[((k+1)*n)/maxBins-1]
				if len(edges) == 0 || v > edges[len(edges)-1] {
					edges = append(edges, v)
				}
			}
		}
		h.edges[j] = edges

		b := make([]uint16, n)
		for i, x := range col {
			b[i] = uint16(sort.SearchFloat64s(edges, x))
		}
		h.bins[j] = b
	}
	return h
}

func uniqueSorted(sorted []float64) []float64 {
	out := make([]float64, 0, len(sorted))
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
