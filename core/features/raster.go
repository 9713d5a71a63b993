package features

import (
	"strings"
	"unicode"

	"github.com/huangsam/defectrisk/schema"
)

// maxColumns is the widest column that contributes to the raster. Longer lines are clipped.
const maxColumns = 120

// tabColumns is how many columns a tab advances.
const tabColumns = 4

// Character classes. A class lands in channel class mod C.
const (
	identClass = iota
	operatorClass
	bracketClass
	quoteClass
)

// Rasterize encodes source text as a character-class density image.
// The result is deterministic for identical text and shape.
func Rasterize(unit schema.CodeUnit, shape schema.ImageShape) (schema.Tensor, error) {
	if reason := validateSource(unit.SourceText); reason != "" {
		return schema.Tensor{}, &schema.EncodingShapeError{Path: unit.Path, CommitID: unit.SnapshotCommitID, Reason: reason}
	}
	img, reason := rasterize(unit.SourceText, shape)
	if reason != "" {
		return schema.Tensor{}, &schema.EncodingShapeError{Path: unit.Path, CommitID: unit.SnapshotCommitID, Reason: reason}
	}
	return img, nil
}

// rasterize bins lines into H rows and columns into W bins. Each cell holds,
// per channel, the fraction of character positions in the cell that belong to
// the channel's classes, so every value lies in [0,1].
func rasterize(text string, shape schema.ImageShape) (schema.Tensor, string) {
	if !shape.Valid() {
		return schema.Tensor{}, "invalid image shape " + shape.String()
	}
	lines := splitLines(text)
	img := schema.NewTensor(shape)

	rowLines := make([]int, shape.H)
	for i := range lines {
		rowLines[i*shape.H/len(lines)]++
	}
	colWidth := make([]int, shape.W)
	for c := range maxColumns {
		colWidth[c*shape.W/maxColumns]++
	}

	var lx lexer
	for i, line := range lines {
		row := i * shape.H / len(lines)
		lx.startLine()
		col := 0
		runes := []rune(line)
		for j, r := range runes {
			if col >= maxColumns {
				break
			}
			var next rune
			if j+1 < len(runes) {
				next = runes[j+1]
			}
			class, visible := lx.classify(r, next)
			if r == '\t' {
				col += tabColumns
				continue
			}
			if visible {
				img.Data[img.Index(row, col*shape.W/maxColumns, class%shape.C)]++
			}
			col++
		}
	}

	for r := range shape.H {
		for c := range shape.W {
			capacity := float64(rowLines[r] * colWidth[c])
			if capacity == 0 {
				continue
			}
			for ch := range shape.C {
				img.Data[img.Index(r, c, ch)] /= capacity
			}
		}
	}
	return img, ""
}

// lexer tracks just enough state to tell code from strings and comments.
// Block comments carry across lines; strings and line comments do not.
type lexer struct {
	quote       rune
	lineComment bool
	block       bool
	prev        rune
}

func (lx *lexer) startLine() {
	lx.quote = 0
	lx.lineComment = false
	lx.prev = 0
}

// classify returns the class of r and whether it occupies a visible cell.
func (lx *lexer) classify(r, next rune) (int, bool) {
	defer func() { lx.prev = r }()

	if unicode.IsSpace(r) {
		return 0, false
	}
	switch {
	case lx.block:
		if lx.prev == '*' && r == '/' {
			lx.block = false
		}
		return quoteClass, true
	case lx.lineComment:
		return quoteClass, true
	case lx.quote != 0:
		if r == lx.quote && lx.prev != '\\' {
			lx.quote = 0
		}
		return quoteClass, true
	case r == '"' || r == '\'' || r == '`':
		lx.quote = r
		return quoteClass, true
	case r == '#' || (r == '/' && next == '/'):
		lx.lineComment = true
		return quoteClass, true
	case r == '/' && next == '*':
		lx.block = true
		return quoteClass, true
	case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
		return identClass, true
	case strings.ContainsRune("()[]{}", r):
		return bracketClass, true
	default:
		return operatorClass, true
	}
}
