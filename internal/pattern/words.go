package pattern

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
)

// minStemLength keeps short words out of the stemmer, where they would collapse together.
const minStemLength = 3

type wordsPattern struct {
	source string
	stems  []string
}

// WordsMatch matches names containing every word of query after stemming, so
// "parse config" matches "ConfigParsing" and "parsedConfigs". Word order is ignored.
func WordsMatch(query string) Pattern {
	return &wordsPattern{source: query, stems: stemAll(SplitWords(query))}
}

func (p *wordsPattern) Match(name string) Quality {
	if len(p.stems) == 0 {
		return NoMatch
	}
	have := make(map[string]struct{})
	for _, s := range stemAll(SplitWords(name)) {
		have[s] = struct{}{}
	}
	for _, s := range p.stems {
		if _, ok := have[s]; !ok {
			return NoMatch
		}
	}
	return Stem
}

func (p *wordsPattern) String() string {
	return fmt.Sprintf("words(%q)", p.source)
}

func stemAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= minStemLength {
			w = porter2.Stem(w)
		}
		out = append(out, w)
	}
	return out
}

// SplitWords splits a symbol name or free text into lower-case words. It handles
// camelCase, PascalCase, acronyms (HTTPServer -> http server), snake_case,
// kebab-case, dotted names, whitespace and letter/digit transitions.
func SplitWords(name string) []string {
	runes := []rune(name)
	words := make([]string, 0, 4)
	word := make([]rune, 0, 16)

	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for i, ch := range runes {
		if ch == '_' || ch == '-' || ch == '.' || ch == '/' || unicode.IsSpace(ch) {
			flush()
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(ch):
				flush()
			case unicode.IsUpper(prev) && unicode.IsLower(ch) && i > 1 && unicode.IsUpper(runes[i-2]) && len(word) > 1:
				// end of an acronym: the last upper-case letter starts the next word
				last := word[len(word)-1]
				word = word[:len(word)-1]
				flush()
				word = append(word, last)
			case unicode.IsLetter(prev) && unicode.IsDigit(ch), unicode.IsDigit(prev) && unicode.IsLetter(ch):
				flush()
			}
		}
		word = append(word, ch)
	}
	flush()
	return words
}
