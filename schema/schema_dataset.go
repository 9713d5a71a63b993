package schema

import "time"

// Dataset is an ordered sequence of feature records sharing one schema and shape.
type Dataset struct {
	Schema  TabularSchema   `json:"schema"`
	Shape   ImageShape      `json:"shape"`
	Records []FeatureRecord `json:"records"`
	Weights []float64       `json:"weights,omitempty"` // per-record loss weights, nil means uniform
}

// Len returns the number of records.
func (d Dataset) Len() int {
	return len(d.Records)
}

// Weight returns the loss weight of record i.
func (d Dataset) Weight(i int) float64 {
	if d.Weights == nil {
		return 1
	}
	return d.Weights[i]
}

// Positives counts records with a true label.
func (d Dataset) Positives() int {
	n := 0
	for _, r := range d.Records {
		if r.Positive() {
			n++
		}
	}
	return n
}

// TimeRange returns the earliest and latest snapshot times. Both are zero for an empty dataset.
func (d Dataset) TimeRange() (time.Time, time.Time) {
	var lo, hi time.Time
	for i, r := range d.Records {
		if i == 0 || r.SnapshotTime.Before(lo) {
			lo = r.SnapshotTime
		}
		if i == 0 || r.SnapshotTime.After(hi) {
			hi = r.SnapshotTime
		}
	}
	return lo, hi
}

// SplitCutoffs bounds the temporal partitions: train <= TrainEnd < val <= ValEnd < test.
type SplitCutoffs struct {
	TrainEnd time.Time `json:"train_end"`
	ValEnd   time.Time `json:"val_end"`
}

// Splits holds the three temporal partitions.
type Splits struct {
	Train  Dataset      `json:"train"`
	Val    Dataset      `json:"val"`
	Test   Dataset      `json:"test"`
	Cuts   SplitCutoffs `json:"cutoffs"`
	Purged int          `json:"purged"` // train/val records dropped at a boundary
}
