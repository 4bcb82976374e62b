package base

import (
	"unicode"
)

// IsIdentifierRune reports whether r may appear in an identifier in the
// languages notebooks usually host.
func IsIdentifierRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// TokenStart returns the rune offset where the identifier ending at offset
// begins. When the rune before offset is not an identifier rune the offset is
// returned unchanged.
func TokenStart(text string, offset int) int {
	runes := []rune(text)
	if offset > len(runes) {
		offset = len(runes)
	}
	start := offset
	for start > 0 && IsIdentifierRune(runes[start-1]) {
		start--
	}
	return start
}

// RuneSlice returns text[start:end] in rune offsets, clamped to the text.
func RuneSlice(text string, start, end int) string {
	runes := []rune(text)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
