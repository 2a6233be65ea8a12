package pattern

import (
	"fmt"
	"strings"

	"github.com/hbollon/go-edlib"
)

// DefaultFuzzyThreshold is the Jaro-Winkler similarity a candidate needs to match.
const DefaultFuzzyThreshold = 0.8

type fuzzyPattern struct {
	source        string
	threshold     float32
	caseSensitive bool
}

// FuzzyMatch matches names whose Jaro-Winkler similarity to query reaches threshold.
// A non-positive threshold selects DefaultFuzzyThreshold.
func FuzzyMatch(query string, threshold float64, caseSensitive bool) Pattern {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	if !caseSensitive {
		query = strings.ToLower(query)
	}
	return &fuzzyPattern{source: query, threshold: float32(threshold), caseSensitive: caseSensitive}
}

func (p *fuzzyPattern) Match(name string) Quality {
	if !p.caseSensitive {
		name = strings.ToLower(name)
	}
	if name == p.source {
		return Exact
	}
	if name == "" || p.source == "" {
		return NoMatch
	}
	score, err := edlib.StringsSimilarity(p.source, name, edlib.JaroWinkler)
	if err != nil || score < p.threshold {
		return NoMatch
	}
	return Fuzzy
}

func (p *fuzzyPattern) String() string {
	return fmt.Sprintf("fuzzy(%q, %.2f)%s", p.source, p.threshold, caseLabel(p.caseSensitive))
}
