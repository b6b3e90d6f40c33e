package strings

import (
	"strings"
)

// DefaultDetailMaxLen is the default maximum length for diagnostic details in
// formatted output. Shared so report columns truncate consistently.
const DefaultDetailMaxLen = 120

// MinTruncateLen is the minimum maxLen value for Truncate. Values smaller
// than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// Truncate shortens a string to maxLen characters and ensures single-line
// output: newlines and runs of whitespace collapse to single spaces, and
// "..." marks a truncation.
//
// Slicing is rune-based so multi-byte characters are never split.
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
