package schema

import "time"

// RiskScore is the model-estimated probability that a unit needs a bug fix within the horizon.
// It is produced fresh per inference run and never persisted as ground truth.
type RiskScore struct {
	Path        string  `json:"path"`
	Probability float64 `json:"probability"`
	Rank        int     `json:"rank"`
}

// FolderRisk rolls unit scores up to their parent directory.
type FolderRisk struct {
	Path            string  `json:"path"`
	Units           int     `json:"units"`
	MeanProbability float64 `json:"mean_probability"`
	MaxProbability  float64 `json:"max_probability"`
}

// Report is the ranked, deduplicated repository-level result. It is purely derived data.
type Report struct {
	GeneratedAt      time.Time    `json:"generated_at"`
	SnapshotCommitID string       `json:"snapshot_commit_id"`
	ModelID          string       `json:"model_id"`
	Scores           []RiskScore  `json:"scores"`
	Folders          []FolderRisk `json:"folders,omitempty"`
}

// Top returns the first n scores, or all of them when n <= 0.
func (r Report) Top(n int) []RiskScore {
	if n <= 0 || n >= len(r.Scores) {
		return r.Scores
	}
	return r.Scores[:n]
}

// MineStats summarises a history mining pass.
type MineStats struct {
	Commits        int       `json:"commits"`
	BugfixCommits  int       `json:"bugfix_commits"`
	Skipped        int       `json:"skipped"`
	DistinctPaths  int       `json:"distinct_paths"`
	FirstCommit    time.Time `json:"first_commit"`
	LastCommit     time.Time `json:"last_commit"`
	FromCache      bool      `json:"from_cache"`
	TopBugfixPaths []string  `json:"top_bugfix_paths,omitempty"`
}
