// Package schema has configs, models and global variables for all parts of defectrisk.
package schema

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FileChange is the numstat entry of a single path within a commit.
type FileChange struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// CommitEvent is one mined commit. It is immutable once mined.
type CommitEvent struct {
	CommitID         string       `json:"commit_id"`
	Timestamp        time.Time    `json:"timestamp"`
	Author           string       `json:"author"`
	Message          string       `json:"message"`
	ChangedUnitPaths []string     `json:"changed_unit_paths"` // sorted and unique
	FileChanges      []FileChange `json:"file_changes"`
	IsBugfix         bool         `json:"is_bugfix"` // heuristic weak label, never ground truth
	LinesAdded       int          `json:"lines_added"`
	LinesRemoved     int          `json:"lines_removed"`
}

// Touches reports whether the commit changed the given path.
func (e CommitEvent) Touches(path string) bool {
	_, found := slices.BinarySearch(e.ChangedUnitPaths, path)
	return found
}

// ChurnFor returns lines added plus removed for the given path in this commit.
func (e CommitEvent) ChurnFor(path string) int {
	for _, fc := range e.FileChanges {
		if fc.Path == path {
			return fc.Added + fc.Removed
		}
	}
	return 0
}

// UnitID identifies a code unit relative to one snapshot.
type UnitID struct {
	Path     string `json:"path"`
	CommitID string `json:"commit_id"`
}

// String implements fmt.Stringer.
func (u UnitID) String() string {
	return u.Path + "@" + ShortCommit(u.CommitID)
}

// CodeUnit is a source file scoped to one repository snapshot.
type CodeUnit struct {
	Path             string
	SnapshotCommitID string
	SnapshotTime     time.Time
	SourceText       string
}

// ID returns the identity of the unit.
func (c CodeUnit) ID() UnitID {
	return UnitID{Path: c.Path, CommitID: c.SnapshotCommitID}
}

// ImageShape is the fixed H x W x C shape of an image encoding.
type ImageShape struct {
	H int `json:"h"`
	W int `json:"w"`
	C int `json:"c"`
}

// Size returns the number of elements of a tensor with this shape.
func (s ImageShape) Size() int {
	return s.H * s.W * s.C
}

// Valid reports whether every dimension is positive.
func (s ImageShape) Valid() bool {
	return s.H > 0 && s.W > 0 && s.C > 0
}

// String formats the shape as HxWxC.
func (s ImageShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.H, s.W, s.C)
}

// ParseImageShape parses strings like "32x32x2".
func ParseImageShape(s string) (ImageShape, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 3 {
		return ImageShape{}, fmt.Errorf("invalid image shape %q, expected HxWxC", s)
	}
	dims := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v <= 0 {
			return ImageShape{}, fmt.Errorf("invalid image shape %q, dimensions must be positive integers", s)
		}
		dims[i] = v
	}
	return ImageShape{H: dims[0], W: dims[1], C: dims[2]}, nil
}

// Tensor is a dense row-major H x W x C array.
type Tensor struct {
	Shape ImageShape `json:"shape"`
	Data  []float64  `json:"data"`
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ImageShape) Tensor {
	return Tensor{Shape: shape, Data: make([]float64, shape.Size())}
}

// Index returns the flat offset of (row, col, channel).
func (t Tensor) Index(row, col, ch int) int {
	return (row*t.Shape.W+col)*t.Shape.C + ch
}

// At returns the value at (row, col, channel).
func (t Tensor) At(row, col, ch int) float64 {
	return t.Data[t.Index(row, col, ch)]
}

// TabularSchema is the ordered list of tabular feature names.
type TabularSchema struct {
	Names []string `json:"names"`
}

// Len returns the number of fields.
func (s TabularSchema) Len() int {
	return len(s.Names)
}

// Equal reports whether both schemas have identical names in identical order.
func (s TabularSchema) Equal(other TabularSchema) bool {
	return slices.Equal(s.Names, other.Names)
}

// Diff describes how other differs from s. It returns "" when they are equal.
func (s TabularSchema) Diff(other TabularSchema) string {
	if s.Equal(other) {
		return ""
	}
	var parts []string
	if len(s.Names) != len(other.Names) {
		parts = append(parts, fmt.Sprintf("length %d != %d", len(s.Names), len(other.Names)))
	}
	for i := 0; i < min(len(s.Names), len(other.Names)); i++ {
		if s.Names[i] != other.Names[i] {
			parts = append(parts, fmt.Sprintf("field %d: %q != %q", i, s.Names[i], other.Names[i]))
		}
	}
	for _, n := range s.Names {
		if !slices.Contains(other.Names, n) {
			parts = append(parts, fmt.Sprintf("missing %q", n))
		}
	}
	for _, n := range other.Names {
		if !slices.Contains(s.Names, n) {
			parts = append(parts, fmt.Sprintf("unexpected %q", n))
		}
	}
	return strings.Join(parts, "; ")
}

// FeatureRecord is the numeric representation of one code unit.
type FeatureRecord struct {
	Unit         UnitID    `json:"unit"`
	SnapshotTime time.Time `json:"snapshot_time"`
	Tabular      []float64 `json:"tabular"`
	Image        Tensor    `json:"image"`
	Label        *bool     `json:"label,omitempty"` // nil at inference time
}

// Positive reports whether the record carries a true label.
func (r FeatureRecord) Positive() bool {
	return r.Label != nil && *r.Label
}

// ShortCommit truncates a commit hash for display.
func ShortCommit(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
