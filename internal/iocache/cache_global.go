package iocache

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/huangsam/defectrisk/schema"
)

// historyTable is the name of the table for mined history caching.
const historyTable = "history_cache"

// Global Manager instance for main logic.
var (
	Manager   = &CacheStoreManager{}
	initOnce  sync.Once
	closeOnce sync.Once
)

// StoreOptions selects the backends opened by InitStores.
// An empty backend leaves that store uninitialized; an empty BlobPath disables the blob cache.
type StoreOptions struct {
	CacheBackend schema.DatabaseBackend
	CacheConnStr string
	RunsBackend  schema.DatabaseBackend
	RunsConnStr  string
	BlobPath     string
}

// InitStores initializes the global manager with the history cache, run store and blob cache.
func InitStores(opts StoreOptions) error {
	var initErr error

	initOnce.Do(func() {
		var err error

		var history *CacheStoreImpl
		if opts.CacheBackend != "" {
			history, err = NewCacheStore(historyTable, opts.CacheBackend, opts.CacheConnStr)
			if err != nil {
				initErr = fmt.Errorf("failed to initialize history cache: %w", err)
				return
			}
		}

		var runs *RunStoreImpl
		if opts.RunsBackend != "" {
			runs, err = NewRunStore(opts.RunsBackend, opts.RunsConnStr)
			if err != nil {
				if history != nil {
					_ = history.Close()
				}
				initErr = fmt.Errorf("failed to initialize run store: %w", err)
				return
			}
		}

		var blobs *BoltBlobCache
		if opts.BlobPath != "" {
			blobs, err = NewBlobCache(opts.BlobPath)
			if err != nil {
				if history != nil {
					_ = history.Close()
				}
				if runs != nil {
					_ = runs.Close()
				}
				initErr = fmt.Errorf("failed to initialize blob cache: %w", err)
				return
			}
		}

		Manager.Lock()
		defer Manager.Unlock()
		// Typed nil pointers must not leak into the interfaces.
		if history != nil {
			Manager.history = history
		}
		if runs != nil {
			Manager.runs = runs
		}
		if blobs != nil {
			Manager.blobs = blobs
		}
	})

	return initErr
}

// CloseStores should be called on application shutdown.
func CloseStores() { // called in main defer
	closeOnce.Do(func() {
		Manager.Lock()
		defer Manager.Unlock()
		if Manager.history != nil {
			_ = Manager.history.Close()
		}
		if Manager.runs != nil {
			_ = Manager.runs.Close()
		}
		if Manager.blobs != nil {
			_ = Manager.blobs.Close()
		}
	})
}

// ClearCache clears the history cache for the specified backend.
// For SQLite, it deletes the database file.
// For SQL backends (MySQL/PostgreSQL), it drops the table.
// For NoneBackend, it does nothing.
func ClearCache(backend schema.DatabaseBackend, dbFilePath, connStr string) error {
	return clearBackend(backend, dbFilePath, connStr, historyTable)
}

// ClearRuns clears the run tracking data for the specified backend.
func ClearRuns(backend schema.DatabaseBackend, dbFilePath, connStr string) error {
	return clearBackend(backend, dbFilePath, connStr, runTables...)
}

// ClearBlobs removes the blob cache file.
func ClearBlobs(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob cache %s: %w", path, err)
	}
	return nil
}

func clearBackend(backend schema.DatabaseBackend, dbFilePath, connStr string, tables ...string) error {
	switch backend {
	case schema.SQLiteBackend:
		if dbFilePath == "" {
			return fmt.Errorf("dbFilePath cannot be empty for SQLite backend")
		}
		// Remove the file; ignore if it doesn't exist
		if err := os.Remove(dbFilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove SQLite database file %s: %w", dbFilePath, err)
		}
		return nil

	case schema.MySQLBackend, schema.PostgreSQLBackend:
		for _, table := range tables {
			if err := clearSQLTable(backend, connStr, table); err != nil {
				return err
			}
		}
		return nil

	case schema.NoneBackend:
		return nil

	default:
		return fmt.Errorf("unsupported backend for clearing: %s", backend)
	}
}

// clearSQLTable connects to the SQL database and drops the table if it exists.
func clearSQLTable(backend schema.DatabaseBackend, connStr, tableName string) error {
	driverName, err := driverFor(backend)
	if err != nil {
		return err
	}
	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", driverName, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteTableName(tableName, backend))
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", tableName, err)
	}
	return nil
}
