// Package evaluation computes held-out classification metrics for scoring
// strategies.
package evaluation

import (
	"sort"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// AUC returns the area under the ROC curve using the rank statistic, with
// tied scores sharing their average rank. It is 0.5 when either class is
// absent.
func AUC(labels []int, scores []float64) float64 {
	n := len(labels)
	if n == 0 || n != len(scores) {
		return 0.5
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, y := range labels {
		if y == 1 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}

// Confusion thresholds scores at cut (inclusive) and counts outcomes.
func Confusion(labels []int, scores []float64, cut float64) domain.ConfusionMatrix {
	var cm domain.ConfusionMatrix
	for i, y := range labels {
		predicted := scores[i] >= cut
		switch {
		case predicted && y == 1:
			cm.TruePositives++
		case predicted:
			cm.FalsePositives++
		case y == 1:
			cm.FalseNegatives++
		default:
			cm.TrueNegatives++
		}
	}
	return cm
}

// Metrics evaluates scores against labels with decision threshold cut.
// Undefined ratios are reported as 0.
func Metrics(labels []int, scores []float64, cut float64) domain.StrategyMetrics {
	cm := Confusion(labels, scores, cut)
	tp, fp := float64(cm.TruePositives), float64(cm.FalsePositives)
	tn, fn := float64(cm.TrueNegatives), float64(cm.FalseNegatives)

	m := domain.StrategyMetrics{
		AUC:               AUC(labels, scores),
		Precision:         ratio(tp, tp+fp),
		Recall:            ratio(tp, tp+fn),
		Specificity:       ratio(tn, tn+fp),
		FalsePositiveRate: ratio(fp, fp+tn),
		Confusion:         cm,
	}
	m.F1 = ratio(2*m.Precision*m.Recall, m.Precision+m.Recall)
	return m
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
