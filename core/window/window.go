// Package window bounds the slices of commit history that features and labels may see.
// Every feature and label computation goes through these helpers so that the two never overlap.
package window

import (
	"sort"
	"time"

	"github.com/huangsam/defectrisk/schema"
)

// Bounds is a half-open interval (From, To] over commit timestamps.
// A zero From means unbounded in the past.
type Bounds struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the interval.
func (b Bounds) Contains(t time.Time) bool {
	if t.After(b.To) {
		return false
	}
	return b.From.IsZero() || t.After(b.From)
}

// FeatureBounds covers all history up to and including the snapshot.
func FeatureBounds(snapshot time.Time) Bounds {
	return Bounds{To: snapshot}
}

// ChurnBounds covers the trailing churn window ending at the snapshot.
func ChurnBounds(snapshot time.Time, churnWindow time.Duration) Bounds {
	return Bounds{From: snapshot.Add(-churnWindow), To: snapshot}
}

// LabelBounds covers the defect horizon strictly after the snapshot.
func LabelBounds(snapshot time.Time, horizon time.Duration) Bounds {
	return Bounds{From: snapshot, To: snapshot.Add(horizon)}
}

// Slice returns the events inside b. The input must be ordered ascending by timestamp.
// The result shares the backing array with history and must not be modified.
func Slice(history []schema.CommitEvent, b Bounds) []schema.CommitEvent {
	hi := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(b.To)
	})
	lo := 0
	if !b.From.IsZero() {
		lo = sort.Search(hi, func(i int) bool {
			return history[i].Timestamp.After(b.From)
		})
	}
	return history[lo:hi:hi]
}

// FeatureWindow returns the events visible to feature extraction at snapshot.
func FeatureWindow(history []schema.CommitEvent, snapshot time.Time) []schema.CommitEvent {
	return Slice(history, FeatureBounds(snapshot))
}

// LabelWindow returns the events used to label a unit snapshotted at snapshot.
func LabelWindow(history []schema.CommitEvent, snapshot time.Time, horizon time.Duration) []schema.CommitEvent {
	return Slice(history, LabelBounds(snapshot, horizon))
}

// DefectiveSoon reports whether a bugfix commit inside the label window touches path.
func DefectiveSoon(history []schema.CommitEvent, path string, snapshot time.Time, horizon time.Duration) bool {
	for _, ev := range LabelWindow(history, snapshot, horizon) {
		if ev.IsBugfix && ev.Touches(path) {
			return true
		}
	}
	return false
}

// Censored reports whether the label horizon of snapshot reaches past the last observed commit.
// Labels for censored snapshots would undercount future fixes.
func Censored(history []schema.CommitEvent, snapshot time.Time, horizon time.Duration) bool {
	if len(history) == 0 {
		return true
	}
	return snapshot.Add(horizon).After(history[len(history)-1].Timestamp)
}
