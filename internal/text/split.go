package text

import (
	"strings"
	"unicode/utf8"
)

// SplitParagraphs breaks generated text on blank lines, in any line-ending
// convention, and returns the trimmed non-empty segments in order.
// A text with no content yields an empty slice.
func SplitParagraphs(s string) []string {
	parts := paragraphBreakRegex.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Chunk splits s into pieces of at most maxLen bytes, cutting at the last
// newline in the second half of a window when there is one and never inside a
// UTF-8 sequence. maxLen <= 0 disables chunking.
func Chunk(s string, maxLen int) []string {
	if maxLen <= 0 || len(s) <= maxLen {
		return []string{s}
	}

	var chunks []string
	for len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if idx := strings.LastIndexByte(s[:cut], '\n'); idx > maxLen/2 {
			cut = idx + 1
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
