package pattern

import (
	"fmt"
	"regexp"
)

type regexPattern struct {
	source        string
	re            *regexp.Regexp
	caseSensitive bool
}

// RegexMatch compiles expr; the whole candidate name must match it.
func RegexMatch(expr string, caseSensitive bool) (Pattern, error) {
	full := "^(?:" + expr + ")$"
	if !caseSensitive {
		full = "(?i)" + full
	}
	re, err := regexp.Compile(full)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", expr, err)
	}
	return &regexPattern{source: expr, re: re, caseSensitive: caseSensitive}, nil
}

func (p *regexPattern) Match(name string) Quality {
	if p.re.MatchString(name) {
		return Exact
	}
	return NoMatch
}

func (p *regexPattern) String() string {
	return fmt.Sprintf("regex(%q)%s", p.source, caseLabel(p.caseSensitive))
}
