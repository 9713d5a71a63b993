package history

import (
	"fmt"
	"regexp"

	"github.com/huangsam/defectrisk/internal/contract"
)

// Classifier labels commit messages as bug fixes.
// Its output is a weak label: undercounting is preferred over mislabeling.
type Classifier struct {
	patterns   []*regexp.Regexp
	exclusions []*regexp.Regexp
}

// NewClassifier compiles case-insensitive bugfix and exclusion patterns.
// An empty set falls back to the built-in one, as configuration loading does.
func NewClassifier(patterns, exclusions []string) (*Classifier, error) {
	if len(patterns) == 0 {
		patterns = contract.DefaultBugfixPatterns
	}
	if len(exclusions) == 0 {
		exclusions = contract.DefaultBugfixExclusions
	}
	c := &Classifier{}
	var err error
	if c.patterns, err = compileAll(patterns); err != nil {
		return nil, err
	}
	if c.exclusions, err = compileAll(exclusions); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultClassifier uses the built-in pattern sets.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(contract.DefaultBugfixPatterns, contract.DefaultBugfixExclusions)
	if err != nil {
		panic(err)
	}
	return c
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid bugfix pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// IsBugfix reports whether msg looks like a bug fix.
// A message that also matches an exclusion is ambiguous and classified false.
func (c *Classifier) IsBugfix(msg string) bool {
	if !matchAny(c.patterns, msg) {
		return false
	}
	return !matchAny(c.exclusions, msg)
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func sources(res []*regexp.Regexp) []string {
	out := make([]string, len(res))
	for i, re := range res {
		out[i] = re.String()
	}
	return out
}
