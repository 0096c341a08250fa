package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// stemLength is the prefix kept by Stem. Czech inflects word endings, so a
// fixed-length prefix is enough to line up "betonu", "betonem" and "betonova".
const stemLength = 5

var stopwords = map[string]struct{}{
	"a": {}, "i": {}, "v": {}, "ve": {}, "z": {}, "ze": {}, "s": {}, "se": {}, "na": {}, "do": {},
	"od": {}, "po": {}, "pro": {}, "pri": {}, "k": {}, "ke": {}, "o": {}, "u": {}, "za": {}, "nebo": {},
	"vcetne": {}, "dale": {}, "jine": {}, "ostatni": {}, "coz": {}, "jako": {}, "tj": {}, "atd": {},
}

var units = map[string]struct{}{
	"m": {}, "m2": {}, "m3": {}, "mm": {}, "cm": {}, "ks": {}, "kg": {}, "t": {}, "bm": {},
	"kpl": {}, "hod": {}, "l": {}, "soubor": {}, "sada": {},
}

var codeFragmentRe = regexp.MustCompile(`\b\d{3,9}\b`)

// Tokens splits a Key into words. Dots, commas and slashes inside numbers and
// class marks ("45.5", "c25/30") are kept, trailing punctuation is not.
func Tokens(key string) []string {
	fields := strings.FieldsFunc(key, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '/' || r == ',')
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "./,")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Keywords returns the tokens that carry work scope: stopwords, units and bare
// numbers are dropped, as are tokens shorter than three runes.
func Keywords(key string) []string {
	var out []string
	for _, tok := range Tokens(key) {
		if IsKeyword(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// IsKeyword reports whether tok is a scope-carrying token.
func IsKeyword(tok string) bool {
	if len([]rune(tok)) < 3 {
		return false
	}
	if _, ok := stopwords[tok]; ok {
		return false
	}
	if _, ok := units[tok]; ok {
		return false
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil {
		return false
	}
	return true
}

// IsUnit reports whether tok is a known unit of measure.
func IsUnit(tok string) bool {
	_, ok := units[tok]
	return ok
}

// Stem truncates a token to a fixed-length prefix.
func Stem(tok string) string {
	r := []rune(tok)
	if len(r) <= stemLength {
		return tok
	}
	return string(r[:stemLength])
}

// CodeFragments returns digit runs that look like (partial) catalog codes.
func CodeFragments(key string) []string {
	return codeFragmentRe.FindAllString(key, -1)
}
