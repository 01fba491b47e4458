// Package textnorm cleans OCR output before entity classification.
package textnorm

import (
	"strings"
	"unicode"
)

// PostProcess keeps ASCII letters, ASCII digits and whitespace, lowercases the
// result and collapses whitespace runs to single spaces. PostProcess is
// idempotent.
func PostProcess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// WordCount returns the number of whitespace-delimited words in text.
func WordCount(text string) int {
	return len(strings.FieldsFunc(text, IsSpace))
}

// IsSpace reports whether r separates words. Besides unicode.IsSpace this
// includes the ASCII information separators U+001C..U+001F.
func IsSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
