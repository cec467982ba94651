// Package util holds small helpers shared across packages. It lives in
// internal to avoid committing to public API stability prematurely.
package util

import "unicode/utf8"

// Truncate shortens s to at most max runes, appending an ellipsis when
// anything was cut. Used to keep log lines bounded when task results are
// large.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// FirstNonEmpty returns the first non-empty string, or "".
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
