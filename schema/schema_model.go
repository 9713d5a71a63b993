package schema

import "time"

// Manifest describes a persisted model checkpoint. It is mandatory and validated on load.
type Manifest struct {
	ModelID    string        `json:"model_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Schema     TabularSchema `json:"schema"`
	Shape      ImageShape    `json:"shape"`
	Epoch      int           `json:"epoch"`
	Metric     float64       `json:"metric"`
	MetricName string        `json:"metric_name"`
	BlobSHA256 string        `json:"blob_sha256"`
	Device     Device        `json:"device"`
}

// EpochMetrics is one point of the training metric time series.
type EpochMetrics struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	ValAUC    float64 `json:"val_auc"`
	ValF1     float64 `json:"val_f1"`
	Improved  bool    `json:"improved"`
}

// EvalMetrics summarises classifier quality on a dataset.
type EvalMetrics struct {
	AUC       float64 `json:"auc"`
	F1        float64 `json:"f1"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Accuracy  float64 `json:"accuracy"`
	LogLoss   float64 `json:"log_loss"`
	Count     int     `json:"count"`
	Positives int     `json:"positives"`
}

// TrainingResult is the outcome of one orchestrated training run.
type TrainingResult struct {
	RunID      string         `json:"run_id"`
	State      TrainingState  `json:"state"`
	StopReason StopReason     `json:"stop_reason"`
	BestEpoch  int            `json:"best_epoch"`
	BestMetric float64        `json:"best_metric"`
	Epochs     int            `json:"epochs"`
	History    []EpochMetrics `json:"history"`
	Manifest   *Manifest      `json:"manifest,omitempty"`
	Test       *EvalMetrics   `json:"test,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Succeeded reports whether the run ended in a terminal success state.
func (r TrainingResult) Succeeded() bool {
	switch r.State {
	case ConvergedState, EarlyStoppedState, MaxEpochsReachedState:
		return true
	default:
		return false
	}
}
