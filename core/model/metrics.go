package model

import (
	"cmp"
	"math"
	"slices"

	"github.com/huangsam/defectrisk/schema"
)

// DecisionThreshold is the probability at or above which a unit is predicted defective.
const DecisionThreshold = 0.5

// ComputeMetrics summarises probabilities against their labels.
func ComputeMetrics(probs []float64, labels []bool) schema.EvalMetrics {
	m := schema.EvalMetrics{Count: len(probs)}
	if len(probs) == 0 {
		return m
	}

	var tp, fp, fn, tn int
	var logLoss float64
	for i, p := range probs {
		y := labels[i]
		if y {
			m.Positives++
		}
		predicted := p >= DecisionThreshold
		switch {
		case predicted && y:
			tp++
		case predicted && !y:
			fp++
		case !predicted && y:
			fn++
		default:
			tn++
		}
		logLoss += binaryCrossEntropy(p, y)
	}

	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Accuracy = ratio(tp+tn, len(probs))
	m.LogLoss = logLoss / float64(len(probs))
	m.AUC = AUC(probs, labels)
	return m
}

// AUC is the area under the ROC curve from the Mann-Whitney rank statistic.
// Tied scores share their average rank. It is 0.5 when either class is absent.
func AUC(probs []float64, labels []bool) float64 {
	n := len(probs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(probs[a], probs[b]) })

	var pos int
	var rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && probs[idx[j]] == probs[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based: mean of i+1..j
		for k := i; k < j; k++ {
			if labels[idx[k]] {
				pos++
				rankSum += avg
			}
		}
		i = j
	}

	neg := n - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}
	u := rankSum - float64(pos*(pos+1))/2
	return u / float64(pos*neg)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
