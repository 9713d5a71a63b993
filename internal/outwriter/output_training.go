package outwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/parquet"
	"github.com/huangsam/defectrisk/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// WriteTraining outputs the epoch history and final state of a training run.
func WriteTraining(result schema.TrainingResult, cfg *contract.Config) error {
	fmtFloat, _ := createFormatters(cfg.Precision)

	switch cfg.Output {
	case schema.JSONOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, result)
		}, "Wrote JSON")
	case schema.CSVOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeCSVEpochs(w, result.History, fmtFloat)
		}, "Wrote CSV")
	case schema.ParquetOut:
		return writeParquet(cfg.OutputFile, parquet.ConvertEpochRecords(epochRecords(result)))
	default:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeTrainingTable(w, result, cfg, fmtFloat)
		}, "Wrote table")
	}
}

func epochRecords(result schema.TrainingResult) []schema.EpochRecord {
	records := make([]schema.EpochRecord, len(result.History))
	for i, m := range result.History {
		records[i] = schema.EpochRecord{
			RunID:     result.RunID,
			Epoch:     m.Epoch,
			TrainLoss: m.TrainLoss,
			ValLoss:   m.ValLoss,
			ValAUC:    m.ValAUC,
			ValF1:     m.ValF1,
			Improved:  m.Improved,
		}
	}
	return records
}

func writeCSVEpochs(w io.Writer, history []schema.EpochMetrics, fmtFloat func(float64) string) error {
	header := []string{"epoch", "train_loss", "val_loss", "val_auc", "val_f1", "improved"}
	return writeCSVWithHeader(w, header, func(cw *csv.Writer) error {
		for _, m := range history {
			rec := []string{
				strconv.Itoa(m.Epoch),
				fmtFloat(m.TrainLoss),
				fmtFloat(m.ValLoss),
				fmtFloat(m.ValAUC),
				fmtFloat(m.ValF1),
				strconv.FormatBool(m.Improved),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTrainingTable(w io.Writer, result schema.TrainingResult, cfg *contract.Config, fmtFloat func(float64) string) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Epoch", "Train Loss", "Val Loss", "Val AUC", "Val F1", "Best"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	data := make([][]string, 0, len(result.History))
	for _, m := range result.History {
		best := ""
		if m.Epoch == result.BestEpoch {
			best = "*"
		}
		data = append(data, []string{
			strconv.Itoa(m.Epoch),
			fmtFloat(m.TrainLoss),
			fmtFloat(m.ValLoss),
			fmtFloat(m.ValAUC),
			fmtFloat(m.ValF1),
			best,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	summary := fmt.Sprintf("Run %s finished as %s", result.RunID, result.State)
	if result.StopReason != schema.StopNone {
		summary += fmt.Sprintf(" (%s)", result.StopReason)
	}
	if _, err := fmt.Fprintf(w, "%s after %d epochs in %v\n", summary, result.Epochs, result.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	if result.Manifest != nil {
		if _, err := fmt.Fprintf(w, "Best model %s from epoch %d (%s %s)\n",
			result.Manifest.ModelID, result.BestEpoch, result.Manifest.MetricName, fmtFloat(result.BestMetric)); err != nil {
			return err
		}
	}
	if result.Test != nil {
		if _, err := fmt.Fprintln(w, "Test split:"); err != nil {
			return err
		}
		return writeEvalTable(w, *result.Test, fmtFloat)
	}
	return nil
}

// WriteEvaluation outputs the metrics of a checkpoint evaluated on a labeled dataset.
func WriteEvaluation(eval schema.EvalMetrics, manifest schema.Manifest, cfg *contract.Config, duration time.Duration) error {
	fmtFloat, _ := createFormatters(cfg.Precision)

	switch cfg.Output {
	case schema.JSONOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, struct {
				Manifest schema.Manifest    `json:"manifest"`
				Metrics  schema.EvalMetrics `json:"metrics"`
			}{manifest, eval})
		}, "Wrote JSON")
	case schema.CSVOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeCSVWithHeader(w, []string{"metric", "value"}, func(cw *csv.Writer) error {
				for _, row := range evalRows(eval, fmtFloat) {
					if err := cw.Write(row); err != nil {
						return err
					}
				}
				return nil
			})
		}, "Wrote CSV")
	default:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			if _, err := fmt.Fprintf(w, "Model %s (epoch %d, %s %s)\n",
				manifest.ModelID, manifest.Epoch, manifest.MetricName, fmtFloat(manifest.Metric)); err != nil {
				return err
			}
			if err := writeEvalTable(w, eval, fmtFloat); err != nil {
				return err
			}
			_, err := fmt.Fprintf(w, "Evaluation completed in %v\n", duration.Round(time.Millisecond))
			return err
		}, "Wrote table")
	}
}

func evalRows(eval schema.EvalMetrics, fmtFloat func(float64) string) [][]string {
	return [][]string{
		{"auc", fmtFloat(eval.AUC)},
		{"f1", fmtFloat(eval.F1)},
		{"precision", fmtFloat(eval.Precision)},
		{"recall", fmtFloat(eval.Recall)},
		{"accuracy", fmtFloat(eval.Accuracy)},
		{"log_loss", fmtFloat(eval.LogLoss)},
		{"count", strconv.Itoa(eval.Count)},
		{"positives", strconv.Itoa(eval.Positives)},
	}
}

func writeEvalTable(w io.Writer, eval schema.EvalMetrics, fmtFloat func(float64) string) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Metric", "Value"})
	if err := table.Bulk(evalRows(eval, fmtFloat)); err != nil {
		return err
	}
	return table.Render()
}

// WriteMineStats outputs a summary of a history mining pass.
func WriteMineStats(stats schema.MineStats, cfg *contract.Config, duration time.Duration) error {
	if cfg.Output == schema.JSONOut {
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, stats)
		}, "Wrote JSON")
	}
	return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
		return writeMineTable(w, stats, duration)
	}, "Wrote table")
}

func writeMineTable(w io.Writer, stats schema.MineStats, duration time.Duration) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Stat", "Value"})
	rows := [][]string{
		{"Commits", strconv.Itoa(stats.Commits)},
		{"Bugfix commits", strconv.Itoa(stats.BugfixCommits)},
		{"Skipped commits", strconv.Itoa(stats.Skipped)},
		{"Distinct paths", strconv.Itoa(stats.DistinctPaths)},
	}
	if stats.Commits > 0 {
		rows = append(rows,
			[]string{"First commit", stats.FirstCommit.Format(contract.DateTimeFormat)},
			[]string{"Last commit", stats.LastCommit.Format(contract.DateTimeFormat)},
		)
	}
	for i, p := range stats.TopBugfixPaths {
		rows = append(rows, []string{fmt.Sprintf("Bugfix path #%d", i+1), p})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	source := "git"
	if stats.FromCache {
		source = "cache"
	}
	_, err := fmt.Fprintf(w, "Mined from %s in %v\n", source, duration.Round(time.Millisecond))
	return err
}
