// Package strings holds the text shaping shared by console output.
package strings

import (
	"strings"
)

// DefaultErrorMaxLen is the width errors are cut to in console tables.
const DefaultErrorMaxLen = 80

// MinTruncateLen is the minimum maxLen value for Truncate.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// Truncate cuts s to maxLen runes and makes it single-line. Runs of whitespace,
// newlines included, collapse into single spaces, and "..." marks a cut.
// maxLen is clamped to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// FirstLine returns s up to its first newline, without a trailing carriage return.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "\r")
}

// Summarize returns the first line of a multi-line message such as an error
// with a stack trace, truncated to maxLen.
func Summarize(s string, maxLen int) string {
	return Truncate(FirstLine(strings.TrimSpace(s)), maxLen)
}
