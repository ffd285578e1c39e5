package search

import (
	"strings"
)

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'Á': 'a', 'À': 'a', 'Ä': 'a', 'Â': 'a',
	'É': 'e', 'È': 'e', 'Ë': 'e', 'Ê': 'e',
	'Í': 'i', 'Ì': 'i', 'Ï': 'i', 'Î': 'i',
	'Ó': 'o', 'Ò': 'o', 'Ö': 'o', 'Ô': 'o',
	'Ú': 'u', 'Ù': 'u', 'Ü': 'u', 'Û': 'u',
	'ñ': 'ñ', 'Ñ': 'ñ',
}

// Fold lowercases and strips diacritics, keeping ñ, which is
// meaningful in Spanish product names.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if mapped, ok := accentFold[r]; ok {
			b.WriteRune(mapped)
			continue
		}
		b.WriteRune(toLowerRune(r))
	}
	return b.String()
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// NormalizeQuery collapses whitespace and accent-folds the utterance
// so lexical matching behaves the same regardless of typing habits.
func NormalizeQuery(q string) string {
	fields := strings.Fields(Fold(q))
	return strings.Join(fields, " ")
}
