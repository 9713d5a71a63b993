package features

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// indentWidth is the number of columns one nesting level is assumed to occupy.
const indentWidth = 4

// decisionRe matches branch points across common languages.
var decisionRe = regexp.MustCompile(`\b(if|elif|for|foreach|while|case|catch|except|when)\b|&&|\|\|`)

var commentPrefixes = []string{"//", "#", "/*", "*", "--", "<!--"}

type sourceMetrics struct {
	linesOfCode    int
	cyclomatic     int
	maxNesting     int
	meanLineLength float64
	commentRatio   float64
}

// validateSource returns a non-empty reason when text cannot be featurized.
func validateSource(text string) string {
	switch {
	case strings.IndexByte(text, 0) >= 0:
		return "binary content"
	case strings.TrimSpace(text) == "":
		return "empty source text"
	case !utf8.ValidString(text):
		return "invalid utf-8"
	}
	return ""
}

// measureSource computes static code metrics over non-blank lines.
func measureSource(text string) sourceMetrics {
	m := sourceMetrics{cyclomatic: 1}
	var totalLen, comments, braceDepth int

	for _, line := range splitLines(text) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m.linesOfCode++
		totalLen += utf8.RuneCountInString(trimmed)

		if depth := indentDepth(line); depth > m.maxNesting {
			m.maxNesting = depth
		}
		if isCommentLine(trimmed) {
			comments++
			continue
		}

		m.cyclomatic += len(decisionRe.FindAllStringIndex(trimmed, -1))
		for _, r := range trimmed {
			switch r {
			case '{':
				braceDepth++
				m.maxNesting = max(m.maxNesting, braceDepth)
			case '}':
				braceDepth = max(braceDepth-1, 0)
			}
		}
	}

	if m.linesOfCode > 0 {
		m.meanLineLength = float64(totalLen) / float64(m.linesOfCode)
		m.commentRatio = float64(comments) / float64(m.linesOfCode)
	}
	return m
}

// indentDepth counts leading indentation in levels, a tab being one level.
func indentDepth(line string) int {
	cols := 0
	for _, r := range line {
		switch r {
		case ' ':
			cols++
		case '\t':
			cols += indentWidth
		default:
			return cols / indentWidth
		}
	}
	return cols / indentWidth
}

func isCommentLine(trimmed string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// splitLines splits on newlines, dropping a trailing empty line and carriage returns.
func splitLines(text string) []string {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
