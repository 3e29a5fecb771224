package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate keeps at most n characters of s and never splits a multibyte
// rune. Invalid UTF-8 sequences are dropped first so the result is always
// storable in a text column.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
