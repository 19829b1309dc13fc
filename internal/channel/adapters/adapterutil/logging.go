// Package adapterutil provides shared utilities for channel adapters.
package adapterutil

import "strings"

const summaryLimit = 120

// SummarizeText returns a truncated preview of the text for log lines, limited to 120 runes.
func SummarizeText(text string) string {
	value := strings.TrimSpace(text)
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= summaryLimit {
		return value
	}
	return string(runes[:summaryLimit]) + "..."
}
