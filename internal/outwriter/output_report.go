package outwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/huangsam/defectrisk/core/risk"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/parquet"
	"github.com/huangsam/defectrisk/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// WriteReport outputs a ranked report, dispatching based on the output format configured.
// Only the top cfg.ResultLimit units and folders are written.
func WriteReport(report schema.Report, cfg *contract.Config, duration time.Duration) error {
	fmtFloat, _ := createFormatters(cfg.Precision)
	scores := report.Top(cfg.ResultLimit)
	folders := risk.RankFolders(report.Folders, cfg.ResultLimit)

	switch cfg.Output {
	case schema.JSONOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSONReport(w, report, scores, folders)
		}, "Wrote JSON")
	case schema.CSVOut:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeCSVReport(w, scores, fmtFloat)
		}, "Wrote CSV")
	case schema.ParquetOut:
		return writeParquet(cfg.OutputFile, parquet.ConvertReport(report, scores, contract.GetPlainLabel))
	default:
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeReportTable(w, report, scores, folders, cfg, fmtFloat, duration)
		}, "Wrote table")
	}
}

// writeJSONReport writes the report header with labeled scores and folders.
func writeJSONReport(w io.Writer, report schema.Report, scores []schema.RiskScore, folders []schema.FolderRisk) error {
	type jsonScore struct {
		schema.RiskScore
		Label string `json:"label"`
	}
	type jsonReport struct {
		GeneratedAt      time.Time           `json:"generated_at"`
		SnapshotCommitID string              `json:"snapshot_commit_id"`
		ModelID          string              `json:"model_id"`
		Scores           []jsonScore         `json:"scores"`
		Folders          []schema.FolderRisk `json:"folders,omitempty"`
	}

	out := jsonReport{
		GeneratedAt:      report.GeneratedAt,
		SnapshotCommitID: report.SnapshotCommitID,
		ModelID:          report.ModelID,
		Scores:           make([]jsonScore, len(scores)),
		Folders:          folders,
	}
	for i, s := range scores {
		out.Scores[i] = jsonScore{RiskScore: s, Label: contract.GetPlainLabel(s.Probability)}
	}
	return writeJSON(w, out)
}

// writeCSVReport writes one row per ranked unit.
func writeCSVReport(w io.Writer, scores []schema.RiskScore, fmtFloat func(float64) string) error {
	header := []string{"rank", "path", "probability", "label"}
	return writeCSVWithHeader(w, header, func(cw *csv.Writer) error {
		for _, s := range scores {
			rec := []string{
				strconv.Itoa(s.Rank),
				s.Path,
				fmtFloat(s.Probability),
				contract.GetPlainLabel(s.Probability),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeReportTable generates and writes the human-readable tables.
func writeReportTable(w io.Writer, report schema.Report, scores []schema.RiskScore, folders []schema.FolderRisk, cfg *contract.Config, fmtFloat func(float64) string, duration time.Duration) error {
	label := labelFunc(cfg)
	pathWidth := getMaxTablePathWidth(cfg)

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "Path", "Probability", "Label"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	data := make([][]string, 0, len(scores))
	for _, s := range scores {
		data = append(data, []string{
			strconv.Itoa(s.Rank),
			contract.TruncatePath(s.Path, pathWidth),
			fmtFloat(s.Probability),
			label(s.Probability),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(folders) > 0 {
		folderTable := tablewriter.NewWriter(w)
		folderTable.Header([]string{"Folder", "Units", "Mean", "Max", "Label"})
		folderTable.Configure(func(cfg *tablewriter.Config) {
			cfg.Row.Alignment.Global = tw.AlignRight
		})
		rows := make([][]string, 0, len(folders))
		for _, f := range folders {
			rows = append(rows, []string{
				contract.TruncatePath(f.Path, pathWidth),
				strconv.Itoa(f.Units),
				fmtFloat(f.MeanProbability),
				fmtFloat(f.MaxProbability),
				label(f.MeanProbability),
			})
		}
		if err := folderTable.Bulk(rows); err != nil {
			return err
		}
		if err := folderTable.Render(); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "Showing top %d of %d units at %s (model %s)\n",
		len(scores), len(report.Scores), schema.ShortCommit(report.SnapshotCommitID), report.ModelID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Scoring completed in %v with %d workers. Cache backend: %s\n",
		duration.Round(time.Millisecond), cfg.Workers, cfg.CacheBackend)
	return err
}
