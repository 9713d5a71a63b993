package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
	"github.com/huangsam/defectrisk/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runsBackend reads and validates the run store settings.
func runsBackend() (schema.DatabaseBackend, string, error) {
	if err := loadConfigFile(); err != nil {
		return "", "", err
	}
	backend := schema.DatabaseBackend(viper.GetString("runs-backend"))
	if backend == "" {
		backend = schema.NoneBackend
	}
	connStr := viper.GetString("runs-db-connect")
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return "", "", err
	}
	return backend, connStr, nil
}

// runsSetup opens only the run store.
func runsSetup(_ *cobra.Command, _ []string) error {
	backend, connStr, err := runsBackend()
	if err != nil {
		return err
	}
	if err := iocache.InitStores(iocache.StoreOptions{RunsBackend: backend, RunsConnStr: connStr}); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	cfg.RunsBackend = backend
	cfg.RunsDBConnect = connStr
	cfg.OutputFile = viper.GetString("output-file")
	return nil
}

// runsMigrateSetup loads the run store settings without opening the store or creating tables,
// allowing migrations to run on a fresh database.
func runsMigrateSetup(_ *cobra.Command, _ []string) error {
	backend, connStr, err := runsBackend()
	if err != nil {
		return err
	}
	if backend == schema.SQLiteBackend && connStr == "" {
		connStr = contract.GetRunsDBFilePath()
	}
	cfg.RunsBackend = backend
	cfg.RunsDBConnect = connStr
	return nil
}

// runStore returns the open run store or exits when tracking is disabled.
func runStore() contract.RunStore {
	store := iocache.Manager.GetRunStore()
	if store == nil || cfg.RunsBackend == schema.NoneBackend {
		contract.LogFatal("Run tracking unavailable", errors.New("runs backend is none"))
	}
	return store
}

// runsCmd focused on training and scoring run data.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage recorded training and scoring runs",
	Long: `Manage the run store that records every training and scoring run.

Each run stores:
- Run metadata (kind, repository, timestamps, configuration, final state)
- Per-epoch training and validation metrics
- Ranked file scores for scoring runs

Supported backends: SQLite (default), MySQL, PostgreSQL, or None (disabled)

Subcommands:
  status  - Show run tracking statistics
  export  - Export runs, epochs and scores to Parquet
  clear   - Remove all run data
  migrate - Run database schema migrations

Examples:
  # Check tracking status
  defectrisk runs status

  # Export for analysis in pandas/DuckDB
  defectrisk runs export --output-file runs.parquet`,
}

// runsStatusCmd shows run store status.
var runsStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Display run tracking statistics and connection details",
	PreRunE: runsSetup,
	Run: func(_ *cobra.Command, _ []string) {
		status, err := runStore().GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get run status", err)
		}
		iocache.PrintRunStatus(os.Stdout, status)
	},
}

// runsExportCmd exports run data to Parquet files.
var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded runs to Parquet for BI tools and analytics",
	Long: `Export all stored run data to Parquet format.

Writes three files next to --output-file:
- runs    - metadata about each training and scoring run
- epochs  - per-epoch loss and validation metrics
- scores  - ranked file probabilities per scoring run

Requires: --output-file parameter

Examples:
  defectrisk runs export --output-file runs.parquet
  duckdb -c "SELECT * FROM read_parquet('runs.parquet') LIMIT 10"`,
	PreRunE: runsSetup,
	Run: func(_ *cobra.Command, _ []string) {
		if err := iocache.ExecuteRunsExport(os.Stdout, runStore(), cfg.OutputFile); err != nil {
			contract.LogFatal("Failed to export run data", err)
		}
	},
}

// runsClearCmd clears the run data.
var runsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all recorded run data",
	Long: `Delete all stored runs, epoch metrics and scores.

WARNING: This action cannot be undone. Consider exporting data first.

Examples:
  defectrisk runs export --output-file backup.parquet
  defectrisk runs clear`,
	PreRunE: runsSetup,
	Run: func(_ *cobra.Command, _ []string) {
		if err := iocache.ClearRuns(cfg.RunsBackend, contract.GetRunsDBFilePath(), cfg.RunsDBConnect); err != nil {
			contract.LogFatal("Failed to clear run data", err)
		}
		fmt.Println("Run data cleared successfully.")
	},
}

// runsMigrateCmd runs database migrations for the run store.
var runsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions for the run store.

By default, migrates to the latest version. Use --target-version for specific versions.

Examples:
  # Migrate to latest version (default)
  defectrisk runs migrate

  # Rollback to initial state
  defectrisk runs migrate --target-version 0`,
	PreRunE: runsMigrateSetup,
	Run: func(_ *cobra.Command, _ []string) {
		targetVersion := viper.GetInt("target-version")
		if err := iocache.MigrateRuns(cfg.RunsBackend, cfg.RunsDBConnect, targetVersion); err != nil {
			contract.LogFatal("Failed to run migrations", err)
		}
	},
}
