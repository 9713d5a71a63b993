package iocache

import (
	"errors"
	"fmt"
	"io"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/parquet"
)

// ExecuteRunsExport writes runs, epochs and scores to three Parquet files next to outputFile.
func ExecuteRunsExport(w io.Writer, store contract.RunStore, outputFile string) error {
	if outputFile == "" {
		return errors.New("--output-file is required for export command")
	}
	if store == nil {
		return errors.New("run tracking is not enabled")
	}

	status, err := store.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get run status: %w", err)
	}
	if status.TotalRuns == 0 {
		return errors.New("no run data found to export")
	}

	_, _ = fmt.Fprintf(w, "Exporting data from %s backend...\n", status.Backend)
	_, _ = fmt.Fprintf(w, "Total runs: %d\n", status.TotalRuns)

	runs, err := store.GetAllRuns()
	if err != nil {
		return fmt.Errorf("failed to retrieve runs: %w", err)
	}
	epochs, err := store.GetAllEpochs()
	if err != nil {
		return fmt.Errorf("failed to retrieve epochs: %w", err)
	}
	scores, err := store.GetAllScores()
	if err != nil {
		return fmt.Errorf("failed to retrieve scores: %w", err)
	}

	runsFile := outputFile + ".training_runs.parquet"
	if err := parquet.WriteFile(parquet.ConvertRunRecords(runs), runsFile); err != nil {
		return fmt.Errorf("failed to write runs: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d runs to: %s\n", len(runs), runsFile)

	epochsFile := outputFile + ".epoch_metrics.parquet"
	if err := parquet.WriteFile(parquet.ConvertEpochRecords(epochs), epochsFile); err != nil {
		return fmt.Errorf("failed to write epochs: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d epochs to: %s\n", len(epochs), epochsFile)

	scoresFile := outputFile + ".risk_scores.parquet"
	if err := parquet.WriteFile(parquet.ConvertScoreRecords(scores), scoresFile); err != nil {
		return fmt.Errorf("failed to write scores: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Exported %d scores to: %s\n", len(scores), scoresFile)

	return nil
}
