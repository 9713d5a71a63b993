package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		probs  []float64
		labels []bool
		want   float64
	}{
		{"perfect", []float64{0.1, 0.2, 0.8, 0.9}, []bool{false, false, true, true}, 1},
		{"inverted", []float64{0.9, 0.8, 0.2, 0.1}, []bool{false, false, true, true}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []bool{false, true, false, true}, 0.5},
		{"partial tie", []float64{0.1, 0.4, 0.4, 0.8}, []bool{false, false, true, true}, 0.875},
		{"one class only", []float64{0.3, 0.7}, []bool{true, true}, 0.5},
		{"empty", nil, nil, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AUC(tt.probs, tt.labels), 1e-12)
		})
	}
}

func TestComputeMetrics(t *testing.T) {
	probs := []float64{0.9, 0.6, 0.4, 0.2, 0.7}
	labels := []bool{true, false, true, false, true}

	m := ComputeMetrics(probs, labels)
	// predictions at 0.5: tp=2 (0.9, 0.7), fp=1 (0.6), fn=1 (0.4), tn=1 (0.2)
	assert.Equal(t, 5, m.Count)
	assert.Equal(t, 3, m.Positives)
	assert.InDelta(t, 2.0/3, m.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, m.F1, 1e-12)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-12)

	wantLoss := -(math.Log(0.9) + math.Log(0.4) + math.Log(0.4) + math.Log(0.8) + math.Log(0.7)) / 5
	assert.InDelta(t, wantLoss, m.LogLoss, 1e-9)
	assert.InDelta(t, 5.0/6, m.AUC, 1e-12)
}

func TestComputeMetricsDegenerate(t *testing.T) {
	m := ComputeMetrics([]float64{0.1, 0.2}, []bool{false, false})
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.Recall)
	assert.Zero(t, m.F1)
	assert.Equal(t, 1.0, m.Accuracy)

	assert.Zero(t, ComputeMetrics(nil, nil).Count)

	// saturated probabilities keep log-loss finite
	m = ComputeMetrics([]float64{0, 1}, []bool{true, false})
	assert.False(t, math.IsInf(m.LogLoss, 0))
}
