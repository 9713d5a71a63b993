package window

import (
	"testing"
	"time"

	"github.com/huangsam/defectrisk/schema"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return base.Add(time.Duration(n) * 24 * time.Hour)
}

func history() []schema.CommitEvent {
	return []schema.CommitEvent{
		{CommitID: "c1", Timestamp: day(0), ChangedUnitPaths: []string{"a.py", "b.py"}},
		{CommitID: "c2", Timestamp: day(10), ChangedUnitPaths: []string{"a.py"}},
		{CommitID: "c3", Timestamp: day(20), ChangedUnitPaths: []string{"a.py"}, IsBugfix: true},
		{CommitID: "c4", Timestamp: day(40), ChangedUnitPaths: []string{"b.py"}},
	}
}

func ids(events []schema.CommitEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.CommitID)
	}
	return out
}

func TestFeatureWindow(t *testing.T) {
	h := history()
	tests := []struct {
		name     string
		snapshot time.Time
		want     []string
	}{
		{"before history", day(-1), []string{}},
		{"includes snapshot commit", day(10), []string{"c1", "c2"}},
		{"between commits", day(15), []string{"c1", "c2"}},
		{"after history", day(100), []string{"c1", "c2", "c3", "c4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FeatureWindow(h, tt.snapshot)))
		})
	}
}

func TestLabelWindowExcludesSnapshot(t *testing.T) {
	h := history()
	assert.Equal(t, []string{"c3"}, ids(LabelWindow(h, day(10), 15*24*time.Hour)))
	assert.Equal(t, []string{"c3", "c4"}, ids(LabelWindow(h, day(10), 30*24*time.Hour)))
	assert.Empty(t, LabelWindow(h, day(40), 30*24*time.Hour))
}

func TestWindowsNeverOverlap(t *testing.T) {
	h := history()
	for _, snap := range []time.Time{day(0), day(10), day(20), day(25)} {
		feat := FeatureWindow(h, snap)
		label := LabelWindow(h, snap, 365*24*time.Hour)
		for _, f := range feat {
			for _, l := range label {
				assert.NotEqual(t, f.CommitID, l.CommitID, "snapshot %s", snap)
			}
		}
		assert.Equal(t, len(h), len(feat)+len(label))
	}
}

func TestChurnBounds(t *testing.T) {
	got := Slice(history(), ChurnBounds(day(20), 10*24*time.Hour))
	// (day 10, day 20]
	assert.Equal(t, []string{"c3"}, ids(got))
}

func TestDefectiveSoon(t *testing.T) {
	h := history()
	horizon := 30 * 24 * time.Hour

	assert.True(t, DefectiveSoon(h, "a.py", day(0), horizon))
	assert.True(t, DefectiveSoon(h, "a.py", day(10), horizon))
	assert.False(t, DefectiveSoon(h, "b.py", day(10), horizon))
	// the bugfix commit itself is part of the feature window, not the label
	assert.False(t, DefectiveSoon(h, "a.py", day(20), horizon))
	// horizon too short to reach the fix
	assert.False(t, DefectiveSoon(h, "a.py", day(0), 5*24*time.Hour))
}

func TestCensored(t *testing.T) {
	h := history()
	assert.False(t, Censored(h, day(0), 30*24*time.Hour))
	assert.True(t, Censored(h, day(20), 30*24*time.Hour))
	assert.True(t, Censored(nil, day(0), time.Hour))
}

func TestSliceDoesNotAllowAppendIntoHistory(t *testing.T) {
	h := history()
	w := FeatureWindow(h, day(10))
	w = append(w, schema.CommitEvent{CommitID: "x"})
	assert.Equal(t, "c3", h[2].CommitID)
	assert.Len(t, w, 3)
}
