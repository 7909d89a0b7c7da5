// Package namekey derives correlation keys from document filenames.
// The key is what ties an editor's reply back to the author who sent
// the original file, so both sides must normalize identically.
package namekey

import (
	"strings"
	"unicode"
)

// Normalize produces the correlation key for a filename: the final
// dot-delimited extension is dropped, every rune that is not an ASCII
// letter, a Cyrillic letter (ё/Ё included) or a digit is removed, and
// the remainder is lower-cased. Empty input yields an empty key.
func Normalize(filename string) string {
	base := filename
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return NormalizeText(base)
}

// NormalizeText applies the same rune filter and case fold without
// extension stripping. Used to normalize free-text error notices
// before substring matching against stored keys.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !keepRune(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func keepRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= 'а' && r <= 'я', r >= 'А' && r <= 'Я':
		return true
	case r == 'ё', r == 'Ё':
		return true
	}
	return false
}

// MatchBySubstring returns the keys that occur as substrings of the
// normalized text. Keys are assumed to be already normalized. This is
// the out-of-band error correlation policy: O(len(keys)) per notice,
// and it assumes keys do not overlap inside the text. Kept behind
// this function so it can be swapped for exact matching.
func MatchBySubstring(keys []string, text string) []string {
	norm := NormalizeText(text)
	if norm == "" {
		return nil
	}
	var out []string
	for _, k := range keys {
		if k == "" {
			continue
		}
		if strings.Contains(norm, k) {
			out = append(out, k)
		}
	}
	return out
}
