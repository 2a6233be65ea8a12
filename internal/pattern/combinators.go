package pattern

import (
	"strings"
)

// OrPolicy selects how an OR combinator picks its result.
type OrPolicy uint8

const (
	// OrFirstMatch returns the quality of the first sub-pattern that matches.
	// It stops early, so a later sub-pattern with a better quality is never consulted.
	OrFirstMatch OrPolicy = iota
	// OrBestMatch consults every sub-pattern and returns the highest quality.
	OrBestMatch
)

// ParseOrPolicy maps "first" and "best" to their policy; anything else is an error.
func ParseOrPolicy(s string) (OrPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return OrFirstMatch, true
	case "best", "max":
		return OrBestMatch, true
	default:
		return OrFirstMatch, false
	}
}

func (p OrPolicy) String() string {
	if p == OrBestMatch {
		return "best"
	}
	return "first"
}

type andPattern struct {
	patterns []Pattern
}

// And matches when every sub-pattern matches and reports the best sub-quality.
// And of no patterns matches everything exactly.
func And(patterns ...Pattern) Pattern {
	return &andPattern{patterns: patterns}
}

func (p *andPattern) Match(name string) Quality {
	best := Exact
	if len(p.patterns) > 0 {
		best = NoMatch
	}
	for _, sub := range p.patterns {
		q := sub.Match(name)
		if q == NoMatch {
			return NoMatch
		}
		if q > best {
			best = q
		}
	}
	return best
}

func (p *andPattern) String() string {
	return "and(" + join(p.patterns) + ")"
}

type orPattern struct {
	patterns []Pattern
	policy   OrPolicy
}

// Or matches when any sub-pattern matches, using OrFirstMatch.
func Or(patterns ...Pattern) Pattern {
	return OrWithPolicy(OrFirstMatch, patterns...)
}

// OrWithPolicy matches when any sub-pattern matches, picking the quality by policy.
func OrWithPolicy(policy OrPolicy, patterns ...Pattern) Pattern {
	return &orPattern{patterns: patterns, policy: policy}
}

func (p *orPattern) Match(name string) Quality {
	best := NoMatch
	for _, sub := range p.patterns {
		q := sub.Match(name)
		if q == NoMatch {
			continue
		}
		if p.policy == OrFirstMatch {
			return q
		}
		if q > best {
			best = q
		}
	}
	return best
}

func (p *orPattern) String() string {
	return "or[" + p.policy.String() + "](" + join(p.patterns) + ")"
}

func join(patterns []Pattern) string {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
