package pattern

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type wildcardPattern struct {
	source        string
	glob          string
	caseSensitive bool
}

// WildcardMatch matches names against a pattern where '*' is any run of characters
// and '?' is exactly one. No other character is special.
func WildcardMatch(pattern string, caseSensitive bool) Pattern {
	glob := pattern
	if !caseSensitive {
		glob = strings.ToLower(glob)
	}
	return &wildcardPattern{source: pattern, glob: escapeGlob(glob), caseSensitive: caseSensitive}
}

// escapeGlob neutralises the doublestar metacharacters other than '*' and '?'.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (p *wildcardPattern) Match(name string) Quality {
	if !p.caseSensitive {
		name = strings.ToLower(name)
	}
	ok, err := doublestar.Match(p.glob, name)
	if err != nil || !ok {
		return NoMatch
	}
	return Exact
}

func (p *wildcardPattern) String() string {
	return fmt.Sprintf("wildcard(%q)%s", p.source, caseLabel(p.caseSensitive))
}

// HasWildcards reports whether s contains '*' or '?'.
func HasWildcards(s string) bool {
	return strings.ContainsAny(s, "*?")
}
