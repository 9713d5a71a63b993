// Package risk turns per-unit probabilities into a ranked repository report.
package risk

import (
	"cmp"
	"fmt"
	"path"
	"slices"

	"github.com/huangsam/defectrisk/schema"
)

// FromPredictions pairs records with their predicted probabilities.
func FromPredictions(records []schema.FeatureRecord, probs []float64) ([]schema.RiskScore, error) {
	if len(records) != len(probs) {
		return nil, fmt.Errorf("got %d predictions for %d records", len(probs), len(records))
	}
	scores := make([]schema.RiskScore, len(records))
	for i, r := range records {
		scores[i] = schema.RiskScore{Path: r.Unit.Path, Probability: probs[i]}
	}
	return scores, nil
}

// Aggregate deduplicates scores by path, keeping the highest probability, and
// ranks them by probability descending with ties broken by path. Ranks are 1-based.
// The input is not modified.
func Aggregate(scores []schema.RiskScore) schema.Report {
	byPath := make(map[string]float64, len(scores))
	for _, s := range scores {
		if p, ok := byPath[s.Path]; !ok || s.Probability > p {
			byPath[s.Path] = s.Probability
		}
	}

	ranked := make([]schema.RiskScore, 0, len(byPath))
	for p, prob := range byPath {
		ranked = append(ranked, schema.RiskScore{Path: p, Probability: prob})
	}
	slices.SortFunc(ranked, func(a, b schema.RiskScore) int {
		return cmp.Or(cmp.Compare(b.Probability, a.Probability), cmp.Compare(a.Path, b.Path))
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return schema.Report{Scores: ranked}
}

// RollupFolders aggregates unit scores into their parent directories,
// ordered by mean probability descending. Units at the repository root roll up into ".".
func RollupFolders(scores []schema.RiskScore) []schema.FolderRisk {
	folders := make(map[string]*schema.FolderRisk)
	for _, s := range scores {
		dir := path.Dir(s.Path)
		f, ok := folders[dir]
		if !ok {
			f = &schema.FolderRisk{Path: dir}
			folders[dir] = f
		}
		f.Units++
		f.MeanProbability += s.Probability // summed here, divided below
		f.MaxProbability = max(f.MaxProbability, s.Probability)
	}

	results := make([]schema.FolderRisk, 0, len(folders))
	for _, f := range folders {
		f.MeanProbability /= float64(f.Units)
		results = append(results, *f)
	}
	slices.SortFunc(results, func(a, b schema.FolderRisk) int {
		return cmp.Or(cmp.Compare(b.MeanProbability, a.MeanProbability), cmp.Compare(a.Path, b.Path))
	})
	return results
}

// RankFolders returns the top limit folders, or all of them when limit <= 0.
func RankFolders(folders []schema.FolderRisk, limit int) []schema.FolderRisk {
	if limit <= 0 || len(folders) <= limit {
		return folders
	}
	return folders[:limit]
}
