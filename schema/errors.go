package schema

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNoCheckpoint    = errors.New("no checkpoint available")
	ErrManifestMissing = errors.New("checkpoint manifest is missing")
	ErrCorruptCommit   = errors.New("corrupt commit object")
)

// RepositoryAccessError means mining cannot proceed.
type RepositoryAccessError struct {
	Repo     string
	CommitID string
	Err      error
}

func (e *RepositoryAccessError) Error() string {
	if e.CommitID != "" {
		return fmt.Sprintf("repository access failed for %s at commit %s: %v", e.Repo, ShortCommit(e.CommitID), e.Err)
	}
	return fmt.Sprintf("repository access failed for %s: %v", e.Repo, e.Err)
}

func (e *RepositoryAccessError) Unwrap() error { return e.Err }

// EncodingShapeError means one unit could not be rasterized into the configured shape.
// It is recovered by excluding the unit.
type EncodingShapeError struct {
	Path     string
	CommitID string
	Reason   string
}

func (e *EncodingShapeError) Error() string {
	return fmt.Sprintf("cannot encode %s@%s: %s", e.Path, ShortCommit(e.CommitID), e.Reason)
}

// SchemaMismatchError means a dataset or model contract was violated.
type SchemaMismatchError struct {
	Context       string
	Expected      TabularSchema
	Actual        TabularSchema
	ExpectedShape ImageShape
	ActualShape   ImageShape
}

// Diff describes the disagreement between expected and actual.
func (e *SchemaMismatchError) Diff() string {
	diff := e.Expected.Diff(e.Actual)
	if e.ExpectedShape != e.ActualShape {
		shapeDiff := fmt.Sprintf("shape %s != %s", e.ExpectedShape, e.ActualShape)
		if diff == "" {
			return shapeDiff
		}
		return diff + "; " + shapeDiff
	}
	return diff
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: %s", e.Context, e.Diff())
}

// InsufficientDataError means a split cannot support training or evaluation.
type InsufficientDataError struct {
	Split     string
	Positives int
	Total     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s split has %d positive examples out of %d", e.Split, e.Positives, e.Total)
}

// TimeoutError means a caller-supplied budget was exceeded.
type TimeoutError struct {
	Stage  string
	Budget time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget", e.Stage, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TrainingDivergenceError means the loss stopped being a finite number.
type TrainingDivergenceError struct {
	Epoch int
	Loss  float64
}

func (e *TrainingDivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d (loss=%v)", e.Epoch, e.Loss)
}
