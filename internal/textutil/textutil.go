// Package textutil holds small string helpers shared by the API, CLI and
// notifier output.
package textutil

import "unicode/utf8"

const ellipsis = "..."

// Truncate shortens s to at most limit runes, ending in "..." when cut.
// It never splits a multi-byte rune.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - len(ellipsis)
	suffix := ellipsis
	if keep < 0 {
		keep, suffix = limit, ""
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + suffix
		}
		n++
	}
	return s + suffix
}
