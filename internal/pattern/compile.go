package pattern

import (
	"fmt"
	"strings"
)

// Options tune how Compile builds patterns.
type Options struct {
	CaseSensitive  bool
	OrPolicy       OrPolicy
	FuzzyThreshold float64
	SamePartCount  bool
}

// Compile turns a query string into a Pattern.
//
//	re:<expr>       regular expression over the whole name
//	camel:<abbrev>  camel-case abbreviation
//	prefix:<text>   prefix
//	fuzzy:<text>    Jaro-Winkler similarity
//	words:<text>    stemmed words in any order
//	exact:<text>    equality, no further parsing
//	a|b             OR of the alternatives
//	a&b             AND of the terms (binds tighter than |)
//	Foo*Bar?        wildcard
//	Foo             exact
//
// A prefixed term consumes the rest of the query, so "re:a|b" is one regex.
func Compile(query string, opts Options) (Pattern, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if p, ok, err := compilePrefixed(query, opts); ok || err != nil {
		return p, err
	}
	if alternatives := strings.Split(query, "|"); len(alternatives) > 1 {
		subs, err := compileAll(alternatives, opts, compileConjunction)
		if err != nil {
			return nil, err
		}
		return OrWithPolicy(opts.OrPolicy, subs...), nil
	}
	return compileConjunction(query, opts)
}

func compileConjunction(query string, opts Options) (Pattern, error) {
	if p, ok, err := compilePrefixed(query, opts); ok || err != nil {
		return p, err
	}
	if terms := strings.Split(query, "&"); len(terms) > 1 {
		subs, err := compileAll(terms, opts, compileTerm)
		if err != nil {
			return nil, err
		}
		return And(subs...), nil
	}
	return compileTerm(query, opts)
}

func compileAll(parts []string, opts Options, compile func(string, Options) (Pattern, error)) ([]Pattern, error) {
	out := make([]Pattern, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty alternative in pattern")
		}
		p, err := compile(part, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func compileTerm(term string, opts Options) (Pattern, error) {
	if p, ok, err := compilePrefixed(term, opts); ok || err != nil {
		return p, err
	}
	if HasWildcards(term) {
		return WildcardMatch(term, opts.CaseSensitive), nil
	}
	return ExactMatch(term, opts.CaseSensitive), nil
}

func compilePrefixed(query string, opts Options) (Pattern, bool, error) {
	kind, rest, found := strings.Cut(query, ":")
	if !found {
		return nil, false, nil
	}
	switch kind {
	case "re":
		p, err := RegexMatch(rest, opts.CaseSensitive)
		return p, true, err
	case "camel":
		return CamelCaseMatch(rest, opts.SamePartCount, opts.CaseSensitive), true, nil
	case "prefix":
		return PrefixMatch(rest, opts.CaseSensitive), true, nil
	case "fuzzy":
		return FuzzyMatch(rest, opts.FuzzyThreshold, opts.CaseSensitive), true, nil
	case "words":
		return WordsMatch(rest), true, nil
	case "exact":
		return ExactMatch(rest, opts.CaseSensitive), true, nil
	default:
		return nil, false, nil
	}
}
