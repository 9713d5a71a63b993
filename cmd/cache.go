package cmd

import (
	"fmt"
	"os"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/internal/iocache"
	"github.com/huangsam/defectrisk/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cacheSetup loads minimal configuration needed for cache operations.
// This is used by commands that need cache access without full shared setup.
func cacheSetup() error {
	if err := loadConfigFile(); err != nil {
		return err
	}

	backend := schema.DatabaseBackend(viper.GetString("cache-backend"))
	connStr := viper.GetString("cache-db-connect")
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return err
	}

	// Run tracking and the blob cache stay closed for cache commands
	if err := iocache.InitStores(iocache.StoreOptions{CacheBackend: backend, CacheConnStr: connStr}); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	cfg.CacheBackend = backend
	cfg.CacheDBConnect = connStr
	return nil
}

// cacheSetupWrapper wraps cacheSetup to provide PreRunE for cache commands.
func cacheSetupWrapper(_ *cobra.Command, _ []string) error {
	return cacheSetup()
}

// cacheCmd focused on cache management.
//
// Note: Cache subcommands use minimal initialization (cacheSetup) instead of
// the full sharedSetup used by the pipeline commands. This avoids Git repo validation
// and complex config processing for simple cache operations.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the mined history and source blob caches",
	Long: `Manage the caches that speed up repeated mining and extraction.

Mined commit events are cached per repository and bounds so that later runs only
parse new history. File contents read at snapshot commits are cached in a local
bbolt file when --blob-cache is enabled.

Supported backends: SQLite (default), MySQL, PostgreSQL, or None (disabled)

Subcommands:
  status - Show cache statistics and connection info
  clear  - Remove all cached data

Examples:
  # Check cache status
  defectrisk cache status

  # Clear cache after a history rewrite
  defectrisk cache clear`,
}

// cacheClearCmd clears the cache.
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached history and source blobs",
	Long: `Delete the mined history cache from the configured backend and the local blob cache.

Use this when:
- Repository history was rewritten (rebase, force push)
- The bug-fix classifier changed and you want a fresh mine
- Cache may be stale or corrupted

For SQLite: Deletes the database file
For MySQL/PostgreSQL: Drops the cache table

Examples:
  # Clear SQLite cache (default)
  defectrisk cache clear

  # Clear MySQL cache (set connection string via env variable)
  DEFECTRISK_CACHE_BACKEND=mysql DEFECTRISK_CACHE_DB_CONNECT="..." defectrisk cache clear`,
	PreRunE: cacheSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		if err := iocache.ClearCache(cfg.CacheBackend, contract.GetCacheDBFilePath(), cfg.CacheDBConnect); err != nil {
			contract.LogFatal("Failed to clear cache", err)
		}
		if err := iocache.ClearBlobs(contract.GetBlobCacheFilePath()); err != nil {
			contract.LogFatal("Failed to clear blob cache", err)
		}
		fmt.Println("Cache cleared successfully.")
	},
}

// cacheStatusCmd shows cache status.
var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cache statistics and connection details",
	Long: `Show detailed information about the mined history cache.

Displays:
- Backend type and connection status
- Total number of cached entries
- Last and oldest cache entry timestamps
- Cache table size

Examples:
  # Check cache status
  defectrisk cache status`,
	PreRunE: cacheSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		store := iocache.Manager.GetHistoryStore()
		if store == nil {
			contract.LogFatal("Failed to get cache status", fmt.Errorf("history cache is not initialized"))
		}
		status, err := store.GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get cache status", err)
		}
		iocache.PrintCacheStatus(os.Stdout, status)
	},
}
