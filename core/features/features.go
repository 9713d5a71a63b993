// Package features turns a code unit and its commit history into a FeatureRecord.
// History is only ever read through core/window so that features never see the label horizon.
package features

import (
	"slices"
	"time"

	"github.com/huangsam/defectrisk/core/window"
	"github.com/huangsam/defectrisk/internal/contract"
	"github.com/huangsam/defectrisk/schema"
)

// Offsets into FeatureRecord.Tabular.
const (
	churnWindowIdx = iota
	commitsWindowIdx
	commitsTotalIdx
	numAuthorsIdx
	priorBugfixIdx
	ageDaysIdx
	daysSinceChangeIdx
	authorGiniIdx
	linesOfCodeIdx
	cyclomaticIdx
	maxNestingIdx
	meanLineLenIdx
	commentRatioIdx
	numTabular
)

var tabularNames = [numTabular]string{
	churnWindowIdx:     "churn_window",
	commitsWindowIdx:   "commits_window",
	commitsTotalIdx:    "commits_total",
	numAuthorsIdx:      "num_authors",
	priorBugfixIdx:     "prior_bugfix_count",
	ageDaysIdx:         "age_days",
	daysSinceChangeIdx: "days_since_last_change",
	authorGiniIdx:      "author_gini",
	linesOfCodeIdx:     "lines_of_code",
	cyclomaticIdx:      "cyclomatic_proxy",
	maxNestingIdx:      "max_nesting_depth",
	meanLineLenIdx:     "mean_line_length",
	commentRatioIdx:    "comment_ratio",
}

// Schema returns the tabular schema every record produced by this package follows.
func Schema() schema.TabularSchema {
	return schema.TabularSchema{Names: slices.Clone(tabularNames[:])}
}

// Extractor computes feature records with a fixed churn window and image shape.
type Extractor struct {
	RepoPath    string
	ChurnWindow time.Duration
	Shape       schema.ImageShape
}

// NewExtractor builds an Extractor from the validated configuration.
func NewExtractor(cfg *contract.Config) *Extractor {
	return &Extractor{
		RepoPath:    cfg.RepoPath,
		ChurnWindow: cfg.ChurnWindow,
		Shape:       cfg.ImageShape,
	}
}

// Schema returns the tabular schema of the records this extractor produces.
func (x *Extractor) Schema() schema.TabularSchema {
	return Schema()
}

// Extract builds an unlabeled record for inference.
func (x *Extractor) Extract(unit schema.CodeUnit, history []schema.CommitEvent) (schema.FeatureRecord, error) {
	return newRecordBuilder(x, unit, history).
		FetchHistoryMetrics().
		FetchSourceMetrics().
		EncodeImage().
		Build()
}

// ExtractLabeled builds a training record whose label says whether a bugfix
// touched the unit within horizon after its snapshot.
func (x *Extractor) ExtractLabeled(unit schema.CodeUnit, history []schema.CommitEvent, horizon time.Duration) (schema.FeatureRecord, error) {
	return newRecordBuilder(x, unit, history).
		FetchHistoryMetrics().
		FetchSourceMetrics().
		EncodeImage().
		AssignLabel(horizon).
		Build()
}

// recordBuilder assembles one FeatureRecord step by step.
// The first failing step short-circuits the rest.
type recordBuilder struct {
	x       *Extractor
	unit    schema.CodeUnit
	history []schema.CommitEvent
	record  schema.FeatureRecord
	err     error
}

func newRecordBuilder(x *Extractor, unit schema.CodeUnit, history []schema.CommitEvent) *recordBuilder {
	return &recordBuilder{
		x:       x,
		unit:    unit,
		history: history,
		record: schema.FeatureRecord{
			Unit:         unit.ID(),
			SnapshotTime: unit.SnapshotTime,
			Tabular:      make([]float64, numTabular),
		},
	}
}

// FetchHistoryMetrics fills the process features from the visible history window.
func (b *recordBuilder) FetchHistoryMetrics() *recordBuilder {
	if b.err != nil {
		return b
	}
	m := computeHistoryMetrics(b.history, b.unit.Path, b.unit.SnapshotTime, b.x.ChurnWindow)
	t := b.record.Tabular
	t[churnWindowIdx] = float64(m.churnWindow)
	t[commitsWindowIdx] = float64(m.commitsWindow)
	t[commitsTotalIdx] = float64(m.commitsTotal)
	t[numAuthorsIdx] = float64(m.numAuthors)
	t[priorBugfixIdx] = float64(m.priorBugfixes)
	t[ageDaysIdx] = m.ageDays
	t[daysSinceChangeIdx] = m.daysSinceChange
	t[authorGiniIdx] = m.authorGini
	return b
}

// FetchSourceMetrics fills the static code features from the unit text.
func (b *recordBuilder) FetchSourceMetrics() *recordBuilder {
	if b.err != nil {
		return b
	}
	if reason := validateSource(b.unit.SourceText); reason != "" {
		b.err = b.shapeError(reason)
		return b
	}
	s := measureSource(b.unit.SourceText)
	t := b.record.Tabular
	t[linesOfCodeIdx] = float64(s.linesOfCode)
	t[cyclomaticIdx] = float64(s.cyclomatic)
	t[maxNestingIdx] = float64(s.maxNesting)
	t[meanLineLenIdx] = s.meanLineLength
	t[commentRatioIdx] = s.commentRatio
	return b
}

// EncodeImage rasterizes the unit text into the configured shape.
func (b *recordBuilder) EncodeImage() *recordBuilder {
	if b.err != nil {
		return b
	}
	img, reason := rasterize(b.unit.SourceText, b.x.Shape)
	if reason != "" {
		b.err = b.shapeError(reason)
		return b
	}
	b.record.Image = img
	return b
}

// AssignLabel sets the defect label from the horizon after the snapshot.
func (b *recordBuilder) AssignLabel(horizon time.Duration) *recordBuilder {
	if b.err != nil {
		return b
	}
	label := window.DefectiveSoon(b.history, b.unit.Path, b.unit.SnapshotTime, horizon)
	b.record.Label = &label
	return b
}

// Build returns the finished record or the first error encountered.
func (b *recordBuilder) Build() (schema.FeatureRecord, error) {
	if b.err != nil {
		return schema.FeatureRecord{}, b.err
	}
	return b.record, nil
}

func (b *recordBuilder) shapeError(reason string) error {
	return &schema.EncodingShapeError{Path: b.unit.Path, CommitID: b.unit.SnapshotCommitID, Reason: reason}
}
