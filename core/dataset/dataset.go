// Package dataset partitions labeled feature records into temporal train/val/test splits.
package dataset

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/huangsam/defectrisk/schema"
)

// seedStream separates the sampling RNG from other consumers of the same seed.
const seedStream = 0x5eed

// Split names used in errors.
const (
	TrainSplit = "train"
	ValSplit   = "val"
	TestSplit  = "test"
)

// Build orders records by (snapshot time, commit, path) and cuts them at the given cutoffs.
// Every record must follow sch and share the first record's image shape.
// A train or val record whose label horizon reaches past its split's cutoff is purged,
// so no label is drawn from commits of a later split.
// The imbalance strategy only touches the train split. Records are never modified:
// the splits hold copies of them that share the underlying feature slices.
func Build(sch schema.TabularSchema, records []schema.FeatureRecord, cuts schema.SplitCutoffs, horizon time.Duration, strategy schema.ImbalanceStrategy, seed int64) (schema.Splits, error) {
	if len(records) == 0 {
		return schema.Splits{}, &schema.InsufficientDataError{Split: TrainSplit}
	}
	if cuts.ValEnd.Before(cuts.TrainEnd) {
		return schema.Splits{}, fmt.Errorf("validation cutoff %s is before train cutoff %s",
			cuts.ValEnd.Format(time.RFC3339), cuts.TrainEnd.Format(time.RFC3339))
	}
	shape := records[0].Image.Shape
	if err := checkRecords(sch, shape, records); err != nil {
		return schema.Splits{}, err
	}

	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, compareRecords)

	var (
		train, val, test []schema.FeatureRecord
		purged           int
	)
	for _, r := range ordered {
		labelEnd := r.SnapshotTime.Add(horizon)
		switch {
		case !r.SnapshotTime.After(cuts.TrainEnd):
			if labelEnd.After(cuts.TrainEnd) {
				purged++
				continue
			}
			train = append(train, r)
		case !r.SnapshotTime.After(cuts.ValEnd):
			if labelEnd.After(cuts.ValEnd) {
				purged++
				continue
			}
			val = append(val, r)
		default:
			test = append(test, r)
		}
	}

	splits := schema.Splits{
		Train:  newDataset(sch, shape, train),
		Val:    newDataset(sch, shape, val),
		Test:   newDataset(sch, shape, test),
		Cuts:   cuts,
		Purged: purged,
	}
	for _, s := range []struct {
		name string
		ds   schema.Dataset
	}{{TrainSplit, splits.Train}, {ValSplit, splits.Val}, {TestSplit, splits.Test}} {
		if pos := s.ds.Positives(); pos == 0 {
			return schema.Splits{}, &schema.InsufficientDataError{Split: s.name, Positives: pos, Total: s.ds.Len()}
		}
	}

	rng := rand.New(rand.NewPCG(uint64(seed), seedStream))
	balanced, err := Rebalance(splits.Train, strategy, rng)
	if err != nil {
		return schema.Splits{}, err
	}
	splits.Train = balanced
	return splits, nil
}

// Rebalance applies strategy to ds and returns a new dataset.
func Rebalance(ds schema.Dataset, strategy schema.ImbalanceStrategy, rng *rand.Rand) (schema.Dataset, error) {
	pos, neg := partitionByLabel(ds.Records)
	switch strategy {
	case schema.NoImbalance, "":
		return ds, nil

	case schema.ClassWeight:
		out := ds
		out.Weights = make([]float64, ds.Len())
		n := float64(ds.Len())
		for i, r := range ds.Records {
			nc := len(neg)
			if r.Positive() {
				nc = len(pos)
			}
			out.Weights[i] = n / (2 * float64(nc))
		}
		return out, nil

	case schema.OversampleMinor:
		if len(pos) == 0 || len(pos) >= len(neg) {
			return ds, nil
		}
		out := ds
		out.Records = slices.Clone(ds.Records)
		for range len(neg) - len(pos) {
			out.Records = append(out.Records, ds.Records[pos[rng.IntN(len(pos))]])
		}
		slices.SortStableFunc(out.Records, compareRecords)
		return out, nil

	case schema.UndersampleMajority:
		if len(pos) >= len(neg) {
			return ds, nil
		}
		drop := make(map[int]bool, len(neg)-len(pos))
		for _, k := range rng.Perm(len(neg))[:len(neg)-len(pos)] {
			drop[neg[k]] = true
		}
		out := ds
		out.Records = make([]schema.FeatureRecord, 0, 2*len(pos))
		for i, r := range ds.Records {
			if !drop[i] {
				out.Records = append(out.Records, r)
			}
		}
		return out, nil

	default:
		return schema.Dataset{}, fmt.Errorf("unknown imbalance strategy %q", strategy)
	}
}

// CutoffsByFraction places the cutoffs on distinct snapshot times so that roughly
// trainFrac of the snapshots land in train and valFrac in val.
func CutoffsByFraction(records []schema.FeatureRecord, trainFrac, valFrac float64) (schema.SplitCutoffs, error) {
	if trainFrac <= 0 || valFrac <= 0 || trainFrac+valFrac >= 1 {
		return schema.SplitCutoffs{}, fmt.Errorf("invalid split fractions train=%.2f val=%.2f", trainFrac, valFrac)
	}

	times := make([]time.Time, 0, len(records))
	for _, r := range records {
		times = append(times, r.SnapshotTime)
	}
	slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	times = slices.CompactFunc(times, func(a, b time.Time) bool { return a.Equal(b) })

	n := len(times)
	if n < 3 {
		return schema.SplitCutoffs{}, fmt.Errorf("need at least 3 distinct snapshots to split, got %d", n)
	}
	trainIdx := clamp(int(math.Ceil(float64(n)*trainFrac))-1, 0, n-3)
	valIdx := clamp(int(math.Ceil(float64(n)*(trainFrac+valFrac)))-1, trainIdx+1, n-2)
	return schema.SplitCutoffs{TrainEnd: times[trainIdx], ValEnd: times[valIdx]}, nil
}

func checkRecords(sch schema.TabularSchema, shape schema.ImageShape, records []schema.FeatureRecord) error {
	for _, r := range records {
		if r.Label == nil {
			return fmt.Errorf("record %s has no label", r.Unit)
		}
		if len(r.Tabular) != sch.Len() || r.Image.Shape != shape || len(r.Image.Data) != shape.Size() {
			return &schema.SchemaMismatchError{
				Context:       "dataset record " + r.Unit.String(),
				Expected:      sch,
				Actual:        schemaOfLen(sch, len(r.Tabular)),
				ExpectedShape: shape,
				ActualShape:   r.Image.Shape,
			}
		}
	}
	return nil
}

// schemaOfLen names n fields after sch, inventing names past its end.
func schemaOfLen(sch schema.TabularSchema, n int) schema.TabularSchema {
	names := make([]string, n)
	for i := range names {
		if i < sch.Len() {
			names[i] = sch.Names[i]
		} else {
			names[i] = fmt.Sprintf("field_%d", i)
		}
	}
	return schema.TabularSchema{Names: names}
}

func newDataset(sch schema.TabularSchema, shape schema.ImageShape, records []schema.FeatureRecord) schema.Dataset {
	return schema.Dataset{Schema: sch, Shape: shape, Records: records}
}

func partitionByLabel(records []schema.FeatureRecord) (pos, neg []int) {
	for i, r := range records {
		if r.Positive() {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	return pos, neg
}

func compareRecords(a, b schema.FeatureRecord) int {
	return cmp.Or(
		a.SnapshotTime.Compare(b.SnapshotTime),
		cmp.Compare(a.Unit.CommitID, b.Unit.CommitID),
		cmp.Compare(a.Unit.Path, b.Unit.Path),
	)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
