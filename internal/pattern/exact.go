package pattern

import (
	"fmt"
	"strings"
)

type exactPattern struct {
	name          string
	caseSensitive bool
}

// ExactMatch matches names equal to name.
func ExactMatch(name string, caseSensitive bool) Pattern {
	return &exactPattern{name: name, caseSensitive: caseSensitive}
}

func (p *exactPattern) Match(name string) Quality {
	if p.caseSensitive {
		if name == p.name {
			return Exact
		}
		return NoMatch
	}
	if strings.EqualFold(name, p.name) {
		return Exact
	}
	return NoMatch
}

func (p *exactPattern) String() string {
	return fmt.Sprintf("exact(%q)%s", p.name, caseLabel(p.caseSensitive))
}

type prefixPattern struct {
	prefix        string
	caseSensitive bool
}

// PrefixMatch matches names starting with prefix. The empty prefix matches every name.
func PrefixMatch(prefix string, caseSensitive bool) Pattern {
	if !caseSensitive {
		prefix = strings.ToLower(prefix)
	}
	return &prefixPattern{prefix: prefix, caseSensitive: caseSensitive}
}

func (p *prefixPattern) Match(name string) Quality {
	if !p.caseSensitive {
		name = strings.ToLower(name)
	}
	if strings.HasPrefix(name, p.prefix) {
		return Exact
	}
	return NoMatch
}

func (p *prefixPattern) String() string {
	return fmt.Sprintf("prefix(%q)%s", p.prefix, caseLabel(p.caseSensitive))
}
