package schema

import "time"

// CacheStatus represents the status of the history cache store.
type CacheStatus struct {
	Backend         string    `json:"backend"`
	Connected       bool      `json:"connected"`
	TotalEntries    int       `json:"total_entries"`
	LastEntryTime   time.Time `json:"last_entry_time"`
	OldestEntryTime time.Time `json:"oldest_entry_time"`
	TableSizeBytes  int64     `json:"table_size_bytes"`
}

// RunStatus represents the status of the training run store.
type RunStatus struct {
	Backend       string           `json:"backend"`
	Connected     bool             `json:"connected"`
	TotalRuns     int              `json:"total_runs"`
	LastRunID     string           `json:"last_run_id"`
	LastRunTime   time.Time        `json:"last_run_time"`
	OldestRunTime time.Time        `json:"oldest_run_time"`
	TotalScores   int              `json:"total_scores"`
	TableSizes    map[string]int64 `json:"table_sizes"`
}

// RunRecord represents a row from the defectrisk_training_runs table.
type RunRecord struct {
	RunID      string
	Kind       string // train or score
	RepoPath   string
	StartTime  time.Time
	EndTime    *time.Time
	DurationMs *int64
	State      string
	StopReason string
	BestEpoch  int
	BestMetric float64
	ModelID    string
	Config     string
}

// EpochRecord represents a row from the defectrisk_epoch_metrics table.
type EpochRecord struct {
	RunID     string
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	ValAUC    float64
	ValF1     float64
	Improved  bool
}

// ScoreRecord represents a row from the defectrisk_risk_scores table.
type ScoreRecord struct {
	RunID       string
	Path        string
	Probability float64
	Rank        int
	ScoredAt    time.Time
}
