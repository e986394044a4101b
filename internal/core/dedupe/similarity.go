package dedupe

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Tokens lowercases name and splits it on anything that is not a letter or digit.
func Tokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NameSimilarity is the normalized Levenshtein similarity (longer - distance) / longer.
// It is symmetric and lies in [0,1].
func NameSimilarity(a, b string) float64 {
	longer := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longer {
		longer = n
	}
	if longer == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(longer-dist) / float64(longer)
}

// containsKeyword reports whether a token is the keyword itself, its plural, or the keyword
// followed by digits ("siem", "siems", "siem2"). Longer words that merely start with the
// keyword, such as "social" for "soc", do not match.
func containsKeyword(tokens []string, kw string) bool {
	for _, t := range tokens {
		rest, ok := strings.CutPrefix(t, kw)
		if !ok {
			continue
		}
		if rest == "" || rest == "s" || strings.TrimLeft(rest, "0123456789") == "" {
			return true
		}
	}
	return false
}
