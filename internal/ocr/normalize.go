package ocr

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize cleans raw engine output. Text is composed to NFC (decomposed
// Hangul jamo become syllables), runs of horizontal whitespace become one
// space, spaces around line breaks are dropped, consecutive line breaks
// collapse to one, and the result is trimmed.
func Normalize(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			kept = append(kept, collapsed)
		}
	}
	return strings.Join(kept, "\n")
}
