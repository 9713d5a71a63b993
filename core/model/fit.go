package model

import (
	"context"
	"fmt"

	"github.com/huangsam/defectrisk/schema"
)

// MetricName is the validation metric used to pick the best epoch.
const MetricName = "val_auc"

// Fit trains for cfg.Epochs and returns the snapshot with the best validation AUC.
// It has no early stopping; core/train layers patience, budgets and persistence on
// top of the same Network API. When an error interrupts training, the best model
// seen so far is returned alongside it (nil if no epoch completed).
func Fit(ctx context.Context, train, val schema.Dataset, cfg Config) (*TrainedModel, []schema.EpochMetrics, error) {
	net, err := NewNetwork(train, cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		best    *TrainedModel
		history []schema.EpochMetrics
	)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		loss, err := net.TrainEpoch(ctx, train)
		if err != nil {
			return best, history, err
		}
		if !finite(loss) {
			return best, history, &schema.TrainingDivergenceError{Epoch: epoch, Loss: loss}
		}
		eval, err := net.Validate(val)
		if err != nil {
			return best, history, fmt.Errorf("validation failed at epoch %d: %w", epoch, err)
		}

		m := schema.EpochMetrics{Epoch: epoch, TrainLoss: loss, ValLoss: eval.LogLoss, ValAUC: eval.AUC, ValF1: eval.F1}
		if best == nil || eval.AUC > best.metric {
			best = net.Snapshot(epoch, eval.AUC)
			m.Improved = true
		}
		history = append(history, m)
	}
	if best == nil {
		return nil, history, fmt.Errorf("no epochs were run (epochs=%d)", cfg.Epochs)
	}
	return best, history, nil
}
