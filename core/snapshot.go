package core

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/huangsam/defectrisk/core/window"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// Snapshot is a commit at which units are extracted.
type Snapshot struct {
	CommitID string
	Time     time.Time
}

// SelectSnapshots picks up to n commits evenly strided over history, always keeping
// the first and last candidate. With dropCensored, commits whose label horizon reaches
// past the last mined commit are not candidates.
func SelectSnapshots(history []schema.CommitEvent, n int, horizon time.Duration, dropCensored bool) []Snapshot {
	candidates := make([]Snapshot, 0, len(history))
	for _, ev := range history {
		if dropCensored && window.Censored(history, ev.Timestamp, horizon) {
			continue
		}
		candidates = append(candidates, Snapshot{CommitID: ev.CommitID, Time: ev.Timestamp})
	}

	switch {
	case n <= 0 || len(candidates) == 0:
		return nil
	case len(candidates) <= n:
		return candidates
	case n == 1:
		return candidates[len(candidates)-1:]
	}

	last := len(candidates) - 1
	selected := make([]Snapshot, 0, n)
	for i := range n {
		selected = append(selected, candidates[i*last/(n-1)])
	}
	return selected
}

// pathFilter decides which repository paths can become units.
type pathFilter interface {
	KeepPath(path string) bool
}

// unitsAt returns the files touched within the churn window of snap that still exist
// at the snapshot commit and pass the path filters, ordered by path.
func unitsAt(ctx context.Context, ec *contract.ExecContext, repo string, history []schema.CommitEvent, snap Snapshot, churnWindow time.Duration, filter pathFilter) ([]schema.CodeUnit, error) {
	touched := make(map[string]struct{})
	for _, ev := range window.Slice(history, window.ChurnBounds(snap.Time, churnWindow)) {
		for _, p := range ev.ChangedUnitPaths {
			if filter.KeepPath(p) {
				touched[p] = struct{}{}
			}
		}
	}
	if len(touched) == 0 {
		return nil, nil
	}

	files, err := ec.Client.ListFilesAtRef(ctx, repo, snap.CommitID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &schema.RepositoryAccessError{Repo: repo, CommitID: snap.CommitID, Err: err}
	}

	units := make([]schema.CodeUnit, 0, len(touched))
	for _, f := range files {
		if _, ok := touched[f]; ok {
			units = append(units, schema.CodeUnit{Path: f, SnapshotCommitID: snap.CommitID, SnapshotTime: snap.Time})
		}
	}
	slices.SortFunc(units, func(a, b schema.CodeUnit) int {
		return strings.Compare(a.Path, b.Path)
	})
	return units, nil
}
