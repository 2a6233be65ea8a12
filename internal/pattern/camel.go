package pattern

import (
	"fmt"
	"strings"
	"unicode"
)

type camelCasePattern struct {
	source        string
	parts         []string
	samePartCount bool
	caseSensitive bool
}

// CamelCaseMatch matches names whose camel-case parts start with the pattern's parts,
// in order: "NPE" and "NuPoEx" both match "NullPointerException". Each uppercase
// letter starts a part. With samePartCount the candidate must have exactly as many
// parts as the pattern, so "NP" no longer matches "NullPointerException".
// Parts are split on the original case either way; caseSensitive only governs
// the comparison, so a case-insensitive "NPE" also matches "nullPointerException".
func CamelCaseMatch(pattern string, samePartCount, caseSensitive bool) Pattern {
	parts := camelParts(pattern)
	if !caseSensitive {
		for i := range parts {
			parts[i] = strings.ToLower(parts[i])
		}
	}
	return &camelCasePattern{
		source:        pattern,
		parts:         parts,
		samePartCount: samePartCount,
		caseSensitive: caseSensitive,
	}
}

func (p *camelCasePattern) Match(name string) Quality {
	if len(p.parts) == 0 {
		return NoMatch
	}
	if name == p.source || (!p.caseSensitive && strings.EqualFold(name, p.source)) {
		return Exact
	}
	candidate := camelParts(name)
	if len(candidate) < len(p.parts) {
		return NoMatch
	}
	if p.samePartCount && len(candidate) != len(p.parts) {
		return NoMatch
	}
	for i, part := range p.parts {
		word := candidate[i]
		if !p.caseSensitive {
			word = strings.ToLower(word)
		}
		if !strings.HasPrefix(word, part) {
			return NoMatch
		}
	}
	return CamelCase
}

func (p *camelCasePattern) String() string {
	if p.samePartCount {
		return fmt.Sprintf("camel(%q, same-parts)%s", p.source, caseLabel(p.caseSensitive))
	}
	return fmt.Sprintf("camel(%q)%s", p.source, caseLabel(p.caseSensitive))
}

// camelParts splits name before every uppercase letter. Leading underscores and
// dollar signs are dropped so "_privateName" splits like "privateName".
func camelParts(name string) []string {
	name = strings.TrimLeft(name, "_$")
	if name == "" {
		return nil
	}
	parts := make([]string, 0, 4)
	start := 0
	for i, r := range name {
		if i > start && unicode.IsUpper(r) {
			parts = append(parts, name[start:i])
			start = i
		}
	}
	return append(parts, name[start:])
}
