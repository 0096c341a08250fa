// Package normalize canonicalizes work item descriptions for matching.
//
// Normalization is deterministic and idempotent: feeding Text.Key (or Text.Display)
// back into Normalize yields the same Key (or Display).
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text is a description in its display and matching forms.
type Text struct {
	// Original is the input exactly as received.
	Original string
	// Display keeps the original casing with whitespace collapsed.
	Display string
	// Key is the lower-cased, diacritic-free form used for matching.
	Key string
}

// IsEmpty reports whether nothing matchable is left after normalization.
func (t Text) IsEmpty() bool {
	return t.Key == ""
}

// maxPasses bounds the fixed-point loop in key.
const maxPasses = 4

var (
	thousandsRe    = regexp.MustCompile(`(\d)[\x{00A0}\x{202F}\x{2009}](\d{3})(\D|$)`)
	decimalComma   = regexp.MustCompile(`(\d),(\d)`)
	cubicRe        = regexp.MustCompile(`\b(?:kub\.\s*m|m\s*\^\s*3)\b`)
	squareRe       = regexp.MustCompile(`\b(?:ctv\.\s*m|m\s*\^\s*2)\b`)
	numberUnitRe   = regexp.MustCompile(`(\d)(m3|m2|mm|cm|ks|kg|bm|kpl|hod|m|t)\b`)
	punctuationRe  = regexp.MustCompile(`[^\p{L}\p{N}\s./,;+%-]+`)
	repeatedDotsRe = regexp.MustCompile(`\.{2,}`)
)

var symbolReplacer = strings.NewReplacer(
	"²", "2",
	"³", "3",
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‘", "'",
	"’", "'",
	"«", `"`,
	"»", `"`,
	"–", "-",
	"—", "-",
	"−", "-",
	"×", "x",
)

var abbreviations = []struct {
	re   *regexp.Regexp
	full string
}{
	{regexp.MustCompile(`\bvc\.\s*`), "vcetne "},
	{regexp.MustCompile(`\btl\.\s*`), "tloustky "},
	{regexp.MustCompile(`\bprum\.\s*`), "prumer "},
	{regexp.MustCompile(`\bzakl\.\s*`), "zakladove "},
	{regexp.MustCompile(`\bzb\.\s*`), "zelezobetonove "},
}

// Normalize converts s into its display and matching forms. Empty input yields an
// empty Text; it never panics.
func Normalize(s string) Text {
	return Text{
		Original: s,
		Display:  collapse(s),
		Key:      key(s),
	}
}

func key(s string) string {
	out := s
	for range maxPasses {
		next := keyPass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func keyPass(s string) string {
	s = replaceStable(thousandsRe, s, "$1$2$3")
	s = symbolReplacer.Replace(s)
	s = strings.ToLower(s)
	s = StripDiacritics(s)
	s = replaceStable(decimalComma, s, "$1.$2")
	s = cubicRe.ReplaceAllString(s, "m3")
	s = squareRe.ReplaceAllString(s, "m2")
	s = punctuationRe.ReplaceAllString(s, " ")
	s = repeatedDotsRe.ReplaceAllString(s, ".")
	s = numberUnitRe.ReplaceAllString(s, "$1 $2")
	for _, abbr := range abbreviations {
		s = abbr.re.ReplaceAllString(s, abbr.full)
	}
	return collapse(s)
}

// StripDiacritics removes combining marks, so "Základová" becomes "Zakladova".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// replaceStable applies re until the output stops changing. Overlapping matches
// such as "1,2,3" need more than one pass.
func replaceStable(re *regexp.Regexp, s, repl string) string {
	for range maxPasses {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
	return s
}
