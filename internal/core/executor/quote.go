package executor

import "strings"

// Quote escapes a string for safe use as one shell word
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// QuoteAll quotes each argument and joins them with spaces
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
