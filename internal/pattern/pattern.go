// Package pattern implements the name predicates used to query indexed elements.
// Every matcher is stateless and safe for concurrent use.
package pattern

import (
	"github.com/standardbeagle/xref/internal/types"
)

// Quality ranks how well a candidate matched. Higher is better; NoMatch is the zero value.
type Quality uint8

const (
	NoMatch Quality = iota
	Fuzzy
	Stem
	CamelCase
	Exact
)

func (q Quality) String() string {
	switch q {
	case NoMatch:
		return "none"
	case Fuzzy:
		return "fuzzy"
	case Stem:
		return "stem"
	case CamelCase:
		return "camel-case"
	case Exact:
		return "exact"
	default:
		return "unknown"
	}
}

// Matched reports whether q is any match at all.
func (q Quality) Matched() bool {
	return q != NoMatch
}

// Pattern is a predicate over candidate names.
type Pattern interface {
	// Match returns the quality of the match of name, or NoMatch.
	Match(name string) Quality
	String() string
}

// MatchElement matches the simple name of e. A nil element never matches.
func MatchElement(p Pattern, e *types.Element) Quality {
	if e == nil || p == nil {
		return NoMatch
	}
	return p.Match(e.SimpleName())
}

func caseLabel(caseSensitive bool) string {
	if caseSensitive {
		return ""
	}
	return "/i"
}
