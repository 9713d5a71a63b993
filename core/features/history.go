package features

import (
	"math"
	"time"

	"github.com/huangsam/defectrisk/core/window"
	"github.com/huangsam/defectrisk/schema"
)

const hoursPerDay = 24

// historyMetrics are the process features of one path at one snapshot.
// Paths with no visible history keep every field at zero.
type historyMetrics struct {
	churnWindow     int
	commitsWindow   int
	commitsTotal    int
	numAuthors      int
	priorBugfixes   int
	ageDays         float64
	daysSinceChange float64
	authorGini      float64
}

func computeHistoryMetrics(history []schema.CommitEvent, path string, snapshot time.Time, churnWindow time.Duration) historyMetrics {
	var m historyMetrics
	churn := window.ChurnBounds(snapshot, churnWindow)
	authors := make(map[string]int)
	var first, last time.Time

	for _, ev := range window.FeatureWindow(history, snapshot) {
		if !ev.Touches(path) {
			continue
		}
		m.commitsTotal++
		authors[ev.Author]++
		if ev.IsBugfix {
			m.priorBugfixes++
		}
		if first.IsZero() {
			first = ev.Timestamp
		}
		last = ev.Timestamp
		if churn.Contains(ev.Timestamp) {
			m.commitsWindow++
			m.churnWindow += ev.ChurnFor(path)
		}
	}
	if m.commitsTotal == 0 {
		return m
	}

	m.numAuthors = len(authors)
	m.ageDays = snapshot.Sub(first).Hours() / hoursPerDay
	m.daysSinceChange = snapshot.Sub(last).Hours() / hoursPerDay

	values := make([]float64, 0, len(authors))
	for _, c := range authors {
		values = append(values, float64(c))
	}
	m.authorGini = gini(values)
	return m
}

// gini computes the Gini coefficient of author contributions.
// 0 means perfectly even ownership, values near 1 mean one author dominates.
func gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}

	var diffSum float64
	for i := range n {
		for j := range n {
			diffSum += math.Abs(values[i] - values[j])
		}
	}

	g := diffSum / (2 * float64(n*n) * mean)
	return math.Min(math.Max(g, 0), 1) // clamp to [0,1]
}
