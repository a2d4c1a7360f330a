// Package utils provides small, layer-agnostic helpers. Nothing in here
// knows about schedules or Zoom; keep it that way.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty
// or malformed. Used for query parameters like page and page_size where
// a bad value should degrade to the default rather than fail the request.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to the inclusive range [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
