package contract

import (
	"time"

	"github.com/huangsam/defectrisk/schema"
)

// CacheManager defines the interface for managing the stores.
// This allows the storage layer to be mocked for testing.
type CacheManager interface {
	GetHistoryStore() CacheStore
	GetRunStore() RunStore
	GetBlobCache() BlobCache
}

// CacheStore defines the interface for versioned key/value cache storage.
// This allows mocking the store for testing.
type CacheStore interface {
	Get(key string) ([]byte, int, int64, error)
	Set(key string, value []byte, version int, timestamp int64) error
	GetStatus() (schema.CacheStatus, error)
	Close() error
}

// RunStore defines the interface for tracking training and scoring runs.
type RunStore interface {
	// BeginRun records a new run and its configuration
	BeginRun(runID string, kind string, repoPath string, startTime time.Time, configParams map[string]any) error

	// RecordEpoch stores the metrics of one training epoch
	RecordEpoch(runID string, metrics schema.EpochMetrics) error

	// EndRun stores the final state of a run
	EndRun(runID string, endTime time.Time, result schema.TrainingResult) error

	// RecordScores stores the ranked scores of a scoring run
	RecordScores(runID string, scoredAt time.Time, scores []schema.RiskScore) error

	// GetAllRuns returns every recorded run ordered by start time
	GetAllRuns() ([]schema.RunRecord, error)

	// GetAllEpochs returns every recorded epoch ordered by run and epoch
	GetAllEpochs() ([]schema.EpochRecord, error)

	// GetAllScores returns every recorded score ordered by run and rank
	GetAllScores() ([]schema.ScoreRecord, error)

	// GetStatus returns status information about the run store
	GetStatus() (schema.RunStatus, error)

	// Close closes the underlying connection
	Close() error
}

// BlobCache stores file contents keyed by commit and path.
// Content at a commit never changes, so entries need no versioning.
type BlobCache interface {
	GetBlob(commitID, path string) ([]byte, bool)
	PutBlob(commitID, path string, content []byte) error
	Close() error
}
