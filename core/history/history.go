// Package history mines commit history into ordered CommitEvent streams.
package history

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
	"github.com/sirupsen/logrus"
)

// commitIDRe accepts SHA-1 and SHA-256 object names.
var commitIDRe = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// topBugfixPaths is how many paths MineStats lists by bugfix count.
const topBugfixPaths = 5

// Miner walks repository history in a single pass.
type Miner struct {
	Classifier *Classifier
	Excludes   []string
	PathFilter string
	Timeout    time.Duration // zero means no budget
}

// NewMiner builds a Miner from the validated configuration.
func NewMiner(cfg *contract.Config) (*Miner, error) {
	classifier, err := NewClassifier(cfg.BugfixPatterns, cfg.BugfixExclusions)
	if err != nil {
		return nil, err
	}
	return &Miner{
		Classifier: classifier,
		Excludes:   cfg.Excludes,
		PathFilter: cfg.PathFilter,
		Timeout:    cfg.MineTimeout,
	}, nil
}

// Mine returns every non-merge commit reachable from ref (HEAD when empty) in (since, until],
// ordered ascending by (timestamp, commit id). Zero bounds leave the window open on that side.
func (m *Miner) Mine(ctx context.Context, ec *contract.ExecContext, repo, ref string, since, until time.Time) ([]schema.CommitEvent, schema.MineStats, error) {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	log := ec.Logger.WithFields(logrus.Fields{"stage": "mine", "repo": repo, "ref": ref})
	start := time.Now()

	if ref == "" {
		ref = "HEAD"
	}
	tip := ref
	if !commitIDRe.MatchString(ref) {
		resolved, err := ec.Client.ResolveRef(ctx, repo, ref)
		if err != nil {
			return nil, schema.MineStats{}, m.wrapErr(repo, err)
		}
		tip = resolved
	}

	store := ec.HistoryStore()
	key := generateCacheKey(repo, tip, since, until, m)
	if store != nil {
		if cached := checkCacheHit(store, key); cached != nil {
			stats := computeStats(cached.Events, cached.Skipped)
			stats.FromCache = true
			log.WithField("commits", stats.Commits).Debug("history cache hit")
			return cached.Events, stats, nil
		}
	}

	out, err := ec.Client.GetCommitLog(ctx, repo, tip, since, until)
	if err != nil {
		return nil, schema.MineStats{}, m.wrapErr(repo, err)
	}

	events, skipped := m.parseLog(out, log)
	sortEvents(events)

	if store != nil {
		storeHistory(store, key, cachedHistory{Events: events, Skipped: skipped})
	}

	stats := computeStats(events, skipped)
	log.WithFields(logrus.Fields{
		"commits":  stats.Commits,
		"bugfixes": stats.BugfixCommits,
		"skipped":  stats.Skipped,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("mined history")
	return events, stats, nil
}

// wrapErr maps a git failure onto the error taxonomy.
func (m *Miner) wrapErr(repo string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && m.Timeout > 0:
		return &schema.TimeoutError{Stage: "mine", Budget: m.Timeout, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &schema.RepositoryAccessError{Repo: repo, Err: err}
	}
}

// commitBuilder accumulates numstat lines for the commit being parsed.
type commitBuilder struct {
	event   schema.CommitEvent
	changes map[string]*schema.FileChange
}

func (b *commitBuilder) finish() schema.CommitEvent {
	ev := b.event
	paths := make([]string, 0, len(b.changes))
	for p := range b.changes {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	ev.ChangedUnitPaths = paths
	ev.FileChanges = make([]schema.FileChange, 0, len(paths))
	for _, p := range paths {
		fc := *b.changes[p]
		ev.FileChanges = append(ev.FileChanges, fc)
		ev.LinesAdded += fc.Added
		ev.LinesRemoved += fc.Removed
	}
	return ev
}

// parseLog turns GetCommitLog output into events. Corrupt headers are skipped with a warning.
func (m *Miner) parseLog(out []byte, log *logrus.Entry) ([]schema.CommitEvent, int) {
	var (
		events  []schema.CommitEvent
		current *commitBuilder
		skipped int
		inBad   bool
	)
	flush := func() {
		if current != nil {
			events = append(events, current.finish())
			current = nil
		}
	}

	for line := range strings.SplitSeq(string(out), "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(line, contract.CommitHeaderPrefix) {
			flush()
			ev, err := parseCommitHeader(line)
			if err != nil {
				skipped++
				inBad = true
				log.WithError(err).WithField("header", truncate(line, 80)).Warn("skipping corrupt commit")
				continue
			}
			inBad = false
			ev.IsBugfix = m.Classifier.IsBugfix(ev.Message)
			current = &commitBuilder{event: ev, changes: make(map[string]*schema.FileChange)}
			continue
		}
		if strings.TrimSpace(line) == "" || inBad || current == nil {
			continue
		}

		path, add, del, ok := parseFileStatsLine(line)
		if !ok || !m.KeepPath(path) {
			continue
		}
		if fc, seen := current.changes[path]; seen {
			fc.Added += add
			fc.Removed += del
		} else {
			current.changes[path] = &schema.FileChange{Path: path, Added: add, Removed: del}
		}
	}
	flush()
	return events, skipped
}

// KeepPath applies the path filter and exclude patterns.
func (m *Miner) KeepPath(path string) bool {
	if path == "" {
		return false
	}
	if m.PathFilter != "" && !strings.HasPrefix(path, m.PathFilter) {
		return false
	}
	return !contract.ShouldIgnore(path, m.Excludes)
}

// parseCommitHeader parses "--hash|author|date|subject".
func parseCommitHeader(line string) (schema.CommitEvent, error) {
	parts := strings.SplitN(strings.TrimPrefix(line, contract.CommitHeaderPrefix), "|", 4)
	if len(parts) != 4 {
		return schema.CommitEvent{}, fmt.Errorf("%w: malformed header", schema.ErrCorruptCommit)
	}
	id := strings.TrimSpace(parts[0])
	if !commitIDRe.MatchString(id) {
		return schema.CommitEvent{}, fmt.Errorf("%w: invalid commit id %q", schema.ErrCorruptCommit, id)
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return schema.CommitEvent{}, fmt.Errorf("%w: commit %s has unparseable date %q", schema.ErrCorruptCommit, schema.ShortCommit(id), parts[2])
	}
	return schema.CommitEvent{
		CommitID:  id,
		Timestamp: ts,
		Author:    strings.TrimSpace(parts[1]),
		Message:   strings.TrimSpace(parts[3]),
	}, nil
}

// parseFileStatsLine parses "added<TAB>removed<TAB>path". Binary entries are rejected.
func parseFileStatsLine(line string) (string, int, int, bool) {
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 3 {
		return "", 0, 0, false
	}
	if parts[0] == "-" || parts[1] == "-" {
		return "", 0, 0, false // binary
	}
	add, err := strconv.Atoi(parts[0])
	if err != nil || add < 0 {
		return "", 0, 0, false
	}
	del, err := strconv.Atoi(parts[1])
	if err != nil || del < 0 {
		return "", 0, 0, false
	}
	return resolveRenamePath(parts[2]), add, del, true
}

// resolveRenamePath returns the destination of a rename, or the path unchanged.
// It handles both "old => new" and "prefix{old => new}suffix".
func resolveRenamePath(path string) string {
	if !strings.Contains(path, " => ") {
		return path
	}

	braceStart := strings.Index(path, "{")
	braceEnd := strings.Index(path, "}")
	if braceStart == -1 || braceEnd == -1 || braceStart >= braceEnd {
		parts := strings.SplitN(path, " => ", 2)
		return parts[1]
	}

	prefix := path[:braceStart]
	renamePart := path[braceStart+1 : braceEnd]
	suffix := path[braceEnd+1:]

	renameParts := strings.SplitN(renamePart, " => ", 2)
	if len(renameParts) != 2 {
		return ""
	}
	newPath := prefix + renameParts[1] + suffix
	// "{old => }" style renames leave a doubled slash behind
	return strings.ReplaceAll(newPath, "//", "/")
}

// sortEvents orders events ascending by (timestamp, commit id).
func sortEvents(events []schema.CommitEvent) {
	slices.SortStableFunc(events, func(a, b schema.CommitEvent) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.CommitID, b.CommitID)
	})
}

// computeStats summarises an ordered event stream.
func computeStats(events []schema.CommitEvent, skipped int) schema.MineStats {
	stats := schema.MineStats{Commits: len(events), Skipped: skipped}
	paths := make(map[string]struct{})
	bugfixes := make(map[string]int)
	for _, ev := range events {
		if ev.IsBugfix {
			stats.BugfixCommits++
		}
		for _, p := range ev.ChangedUnitPaths {
			paths[p] = struct{}{}
			if ev.IsBugfix {
				bugfixes[p]++
			}
		}
	}
	stats.DistinctPaths = len(paths)
	if len(events) > 0 {
		stats.FirstCommit = events[0].Timestamp
		stats.LastCommit = events[len(events)-1].Timestamp
	}

	ranked := make([]string, 0, len(bugfixes))
	for p := range bugfixes {
		ranked = append(ranked, p)
	}
	slices.SortFunc(ranked, func(a, b string) int {
		if c := cmp.Compare(bugfixes[b], bugfixes[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(ranked) > topBugfixPaths {
		ranked = ranked[:topBugfixPaths]
	}
	stats.TopBugfixPaths = ranked
	return stats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
