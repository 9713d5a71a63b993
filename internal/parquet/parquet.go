// Package parquet provides data structures and functions for exporting defectrisk
// runs and reports to Parquet files using github.com/parquet-go/parquet-go.
package parquet

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/huangsam/defectrisk/schema"
	"github.com/parquet-go/parquet-go"
)

// TrainingRun maps to the defectrisk_training_runs table.
type TrainingRun struct {
	RunID string `parquet:"run_id,snappy"`

	// Kind is train or score
	Kind     string `parquet:"kind,snappy"`
	RepoPath string `parquet:"repo_path,snappy"`

	StartTime time.Time `parquet:"start_time,snappy"`

	// EndTime is nil while a run is still in progress
	EndTime    *time.Time `parquet:"end_time,optional,snappy"`
	DurationMs *int64     `parquet:"run_duration_ms,optional,snappy"`

	State      string  `parquet:"state,snappy"`
	StopReason string  `parquet:"stop_reason,snappy"`
	BestEpoch  int32   `parquet:"best_epoch,snappy"`
	BestMetric float64 `parquet:"best_metric,snappy"`
	ModelID    string  `parquet:"model_id,snappy"`

	// ConfigParams contains the JSON-encoded configuration parameters
	ConfigParams *string `parquet:"config_params,optional,snappy"`
}

// EpochMetric maps to the defectrisk_epoch_metrics table.
type EpochMetric struct {
	RunID     string  `parquet:"run_id,snappy"`
	Epoch     int32   `parquet:"epoch,snappy"`
	TrainLoss float64 `parquet:"train_loss,snappy"`
	ValLoss   float64 `parquet:"val_loss,snappy"`
	ValAUC    float64 `parquet:"val_auc,snappy"`
	ValF1     float64 `parquet:"val_f1,snappy"`
	Improved  bool    `parquet:"improved,snappy"`
}

// RiskScore is one ranked unit. It maps to the defectrisk_risk_scores table
// and is also the row type of a report written with --output parquet.
type RiskScore struct {
	// RunID is empty for a report written straight from a scoring pass
	RunID       string    `parquet:"run_id,optional,snappy"`
	Path        string    `parquet:"file_path,snappy"`
	Probability float64   `parquet:"probability,snappy"`
	Rank        int32     `parquet:"score_rank,snappy"`
	Label       string    `parquet:"label,optional,snappy"`
	ScoredAt    time.Time `parquet:"scored_at,snappy"`
}

// WriteRows writes rows of any struct type to w, inferring the schema from struct tags.
func WriteRows[T any](w io.Writer, rows []T) error {
	writer := parquet.NewGenericWriter[T](w)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// WriteFile writes rows to a new Parquet file at outputPath.
func WriteFile[T any](rows []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return WriteRows(file, rows)
}

// ConvertRunRecords converts schema.RunRecord to TrainingRun for Parquet export.
func ConvertRunRecords(records []schema.RunRecord) []TrainingRun {
	result := make([]TrainingRun, len(records))
	for i, r := range records {
		var cfg *string
		if r.Config != "" {
			c := r.Config
			cfg = &c
		}
		result[i] = TrainingRun{
			RunID:        r.RunID,
			Kind:         r.Kind,
			RepoPath:     r.RepoPath,
			StartTime:    r.StartTime,
			EndTime:      r.EndTime,
			DurationMs:   r.DurationMs,
			State:        r.State,
			StopReason:   r.StopReason,
			BestEpoch:    int32(r.BestEpoch),
			BestMetric:   r.BestMetric,
			ModelID:      r.ModelID,
			ConfigParams: cfg,
		}
	}
	return result
}

// ConvertEpochRecords converts schema.EpochRecord to EpochMetric for Parquet export.
func ConvertEpochRecords(records []schema.EpochRecord) []EpochMetric {
	result := make([]EpochMetric, len(records))
	for i, r := range records {
		result[i] = EpochMetric{
			RunID:     r.RunID,
			Epoch:     int32(r.Epoch),
			TrainLoss: r.TrainLoss,
			ValLoss:   r.ValLoss,
			ValAUC:    r.ValAUC,
			ValF1:     r.ValF1,
			Improved:  r.Improved,
		}
	}
	return result
}

// ConvertScoreRecords converts schema.ScoreRecord to RiskScore for Parquet export.
func ConvertScoreRecords(records []schema.ScoreRecord) []RiskScore {
	result := make([]RiskScore, len(records))
	for i, r := range records {
		result[i] = RiskScore{
			RunID:       r.RunID,
			Path:        r.Path,
			Probability: r.Probability,
			Rank:        int32(r.Rank),
			ScoredAt:    r.ScoredAt,
		}
	}
	return result
}

// ConvertReport flattens a report into rows. label maps a probability to its label.
func ConvertReport(report schema.Report, scores []schema.RiskScore, label func(float64) string) []RiskScore {
	result := make([]RiskScore, len(scores))
	for i, s := range scores {
		result[i] = RiskScore{
			Path:        s.Path,
			Probability: s.Probability,
			Rank:        int32(s.Rank),
			Label:       label(s.Probability),
			ScoredAt:    report.GeneratedAt,
		}
	}
	return result
}
