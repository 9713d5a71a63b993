package cmd

import (
	"github.com/huangsam/defectrisk/core"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/spf13/cobra"
)

// runPipeline adapts an executor into a cobra Run function that exits on failure.
func runPipeline(msg string, exec core.ExecutorFunc) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		if err := exec(rootCtx, cfg, execCtx); err != nil {
			contract.LogFatal(msg, err)
		}
	}
}

// mineCmd mines the commit history and summarizes it.
var mineCmd = &cobra.Command{
	Use:   "mine [repo-path]",
	Short: "Mine Git history and summarize bug-fix activity.",
	Long: `Walk the non-merge commit history and classify each commit as a bug fix or not.

The mined event stream is cached per repository, so later train and score runs
only read new commits. Use this to check how many bug fixes the classifier finds
before training.

Examples:
  # Summarize the last two years of history
  defectrisk mine --since "2 years ago"

  # Try a stricter classifier
  defectrisk mine --bugfix-patterns '\bfix(es|ed)?\b,\bbug\b'`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: sharedSetupWrapper,
	Run:     runPipeline("Cannot mine history", core.ExecuteMine),
}

// trainCmd fits a defect model.
var trainCmd = &cobra.Command{
	Use:   "train [repo-path]",
	Short: "Train a defect model on labeled snapshots of the history.",
	Long: `Build a labeled dataset from evenly spaced snapshots and fit the two-branch model.

Each file touched within the churn window of a snapshot becomes one sample. It is
labeled defective when a bug-fix commit changes it within the label horizon.
Samples are split by time into train, validation and test sets. Training stops
early when the validation AUC stops improving, and the best checkpoint is kept
in the model directory.

Examples:
  # Train with defaults
  defectrisk train

  # Longer horizon, more snapshots and a time budget
  defectrisk train --horizon "180 days" --snapshots 24 --fit-timeout 30m

  # Export the epoch history
  defectrisk train --output csv --output-file epochs.csv`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: sharedSetupWrapper,
	Run:     runPipeline("Cannot train model", core.ExecuteTrain),
}

// scoreCmd ranks files by predicted defect probability.
var scoreCmd = &cobra.Command{
	Use:   "score [repo-path]",
	Short: "Rank files at a ref by predicted defect probability.",
	Long: `Score every recently changed file at --ref with the best checkpoint.

Files are ranked by probability and rolled up by folder. Scoring runs are
recorded in the run store when run tracking is enabled.

Examples:
  # Score HEAD
  defectrisk score --limit 20

  # Score a release branch and export for BI tools
  defectrisk score --ref release-1.4 --output parquet --output-file risk.parquet`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: sharedSetupWrapper,
	Run:     runPipeline("Cannot score repository", core.ExecuteScore),
}

// evaluateCmd measures the checkpoint on held-out data.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [repo-path]",
	Short: "Evaluate the best checkpoint on the test split.",
	Long: `Rebuild the labeled dataset with the current settings and report the best
checkpoint's metrics on the test split.

Examples:
  # Evaluate after new history has landed
  defectrisk evaluate --output json`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: sharedSetupWrapper,
	Run:     runPipeline("Cannot evaluate model", core.ExecuteEvaluate),
}
