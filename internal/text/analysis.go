// Package text provides the tokenization and per-language stemming applied to
// listing titles and descriptions before they reach the index, and to free-text
// queries before they are compiled.
package text

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// SupportedLanguages are the snowball stemmers available to analyzers.
var SupportedLanguages = []string{"english", "russian", "spanish", "french", "swedish", "norwegian", "hungarian"}

// Tokenize lowercases s and splits it on any rune that is not a letter or a digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Analyzer stems tokens for one natural language.
type Analyzer struct {
	lang string
}

// NewAnalyzer creates an analyzer for a supported language.
func NewAnalyzer(lang string) (Analyzer, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, l := range SupportedLanguages {
		if l == lang {
			return Analyzer{lang: lang}, nil
		}
	}
	return Analyzer{}, fmt.Errorf("unsupported analyzer language %q", lang)
}

// Language returns the analyzer language.
func (a Analyzer) Language() string { return a.lang }

// Suffix is the short field suffix used for this language, e.g. "en" for english.
func (a Analyzer) Suffix() string {
	switch a.lang {
	case "english":
		return "en"
	case "russian":
		return "ru"
	case "spanish":
		return "es"
	case "french":
		return "fr"
	case "swedish":
		return "sv"
	case "norwegian":
		return "no"
	case "hungarian":
		return "hu"
	}
	return a.lang
}

// Terms tokenizes s and stems every token. Tokens the stemmer rejects are kept verbatim.
func (a Analyzer) Terms(s string) []string {
	tokens := Tokenize(s)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, a.stem(tok))
	}
	return out
}

// Analyze returns the stemmed form of s as a space-separated string.
func (a Analyzer) Analyze(s string) string {
	return strings.Join(a.Terms(s), " ")
}

func (a Analyzer) stem(tok string) string {
	// Stemmers only operate on their own script; leave mixed tokens and numbers alone.
	if !isLetters(tok) {
		return tok
	}
	stemmed, err := snowball.Stem(tok, a.lang, true)
	if err != nil || stemmed == "" {
		return tok
	}
	return stemmed
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Analyzers is the ordered set configured for the index.
type Analyzers []Analyzer

// NewAnalyzers builds analyzers for the given languages, rejecting duplicates.
func NewAnalyzers(langs []string) (Analyzers, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("at least one analyzer language is required")
	}
	seen := make(map[string]bool, len(langs))
	out := make(Analyzers, 0, len(langs))
	for _, l := range langs {
		a, err := NewAnalyzer(l)
		if err != nil {
			return nil, err
		}
		if seen[a.lang] {
			return nil, fmt.Errorf("duplicate analyzer language %q", a.lang)
		}
		seen[a.lang] = true
		out = append(out, a)
	}
	return out, nil
}

// MustAnalyzers panics on invalid configuration. Intended for tests and static setups.
func MustAnalyzers(langs ...string) Analyzers {
	a, err := NewAnalyzers(langs)
	if err != nil {
		panic(err)
	}
	return a
}
