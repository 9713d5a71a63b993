// Package cmd defines the command-line interface for defectrisk.
package cmd

import (
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)

	// Add the runs subcommands to the parent runs command
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsClearCmd)
	runsCmd.AddCommand(runsMigrateCmd)

	// Add the cache subcommands to the parent cache command
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatusCmd)

	flags := rootCmd.PersistentFlags()

	// Repository and output
	flags.StringP("filter", "f", "", "Only consider files under this path prefix")
	flags.String("exclude", "", "Comma-separated list of path prefixes or patterns to ignore")
	flags.Int("workers", contract.DefaultWorkers, "Number of concurrent workers")
	flags.String("ref", "HEAD", "Git reference to score")
	flags.IntP("limit", "l", contract.DefaultResultLimit, "Number of results to display")
	flags.String("output", string(schema.TextOut), "Output format: text or csv or json or parquet")
	flags.String("output-file", "", "Optional path to write output to")
	flags.Int("precision", contract.DefaultPrecision, "Decimal precision for numeric columns")
	flags.Int("width", 0, "Terminal width override (0 = auto-detect)")
	flags.String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	flags.String("log-level", contract.DefaultLogLevel, "Log level: debug or info or warn or error")
	flags.String("profile", "", "Enable profiling and write profiles to files with this prefix")
	flags.String("config", "", "Path to config file")

	// Mining
	flags.String("since", "", "Mine commits after this time (RFC3339 or time ago)")
	flags.String("until", "", "Mine commits up to this time (RFC3339 or time ago)")
	flags.String("bugfix-patterns", "", "Comma-separated regex patterns that mark a commit subject as a bug fix")
	flags.String("bugfix-exclusions", "", "Comma-separated regex patterns that mark a commit subject as ambiguous")
	flags.String("mine-timeout", "", "Time budget for mining (e.g., 5m, '10 minutes'); empty means none")

	// Features and dataset
	flags.String("churn-window", contract.DefaultChurnWindow, "History window before a snapshot used for churn features")
	flags.String("horizon", contract.DefaultHorizon, "Window after a snapshot in which a bug fix labels a file defective")
	flags.String("image-shape", contract.DefaultImageShape, "Source raster shape as HxWxC")
	flags.String("train-end", "", "Absolute end of the training split (requires --val-end)")
	flags.String("val-end", "", "Absolute end of the validation split (requires --train-end)")
	flags.Float64("train-frac", contract.DefaultTrainFrac, "Fraction of snapshot times used for training")
	flags.Float64("val-frac", contract.DefaultValFrac, "Fraction of snapshot times used for validation")
	flags.String("imbalance", string(schema.ClassWeight), "Class imbalance strategy: none or class_weight or oversample or undersample")
	flags.Int("snapshots", contract.DefaultSnapshots, "Number of snapshot commits sampled from history")
	flags.Int64("seed", contract.DefaultSeed, "Random seed for sampling and weight initialization")

	// Training
	flags.Int("epochs", contract.DefaultEpochs, "Maximum number of training epochs")
	flags.Int("patience", contract.DefaultPatience, "Epochs without validation improvement before stopping")
	flags.Float64("min-delta", contract.DefaultMinDelta, "Minimum validation AUC increase that counts as improvement")
	flags.Int("batch-size", contract.DefaultBatchSize, "Mini-batch size")
	flags.Float64("learning-rate", contract.DefaultLearningRate, "Optimizer learning rate")
	flags.String("hidden", contract.DefaultHidden, "Hidden sizes as 'N' or 'TAB,IMG'")
	flags.String("device", string(schema.CPUDevice), "Compute device: cpu or gpu")
	flags.String("fit-timeout", "", "Time budget for training (e.g., 30m); empty means none")
	flags.String("model-dir", "", "Checkpoint directory (defaults to a per-repository directory under ~/.defectrisk)")

	// Storage
	flags.String("cache-backend", string(schema.SQLiteBackend), "History cache backend: sqlite or mysql or postgresql or none")
	flags.String("cache-db-connect", "", "Database connection string for mysql/postgresql (e.g., user:pass@tcp(host:port)/dbname)")
	flags.String("runs-backend", string(schema.SQLiteBackend), "Run tracking backend: sqlite or mysql or postgresql or none")
	flags.String("runs-db-connect", "", "Database connection string for run tracking (must differ from cache-db-connect)")
	flags.String("blob-cache", "yes", "Cache file contents read at snapshot commits (yes/no)")

	if err := viper.BindPFlags(flags); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of runsMigrateCmd to Viper
	runsMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(runsMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding runs migrate flags", err)
	}
}
