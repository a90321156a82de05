package tools

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxResultBytes bounds a tool result fed back to the LLM. Results at
// exactly this size pass through; only larger results are truncated.
const MaxResultBytes = 50000

// minHexRun is the shortest contiguous hex run the sanitizer scrubs.
// A run of 199 characters is preserved.
const minHexRun = 200

var (
	base64DataRe = regexp.MustCompile(`data:[a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	hexRunRe     = regexp.MustCompile(`[0-9a-fA-F]{` + fmt.Sprint(minHexRun) + `,}`)
)

// Sanitize rewrites a tool result before it re-enters the model context:
// base64 data URLs and long hex runs are replaced with size notes, and the
// result is bounded to MaxResultBytes. The rewrite is deterministic,
// idempotent, and never splits a multi-byte character. Empty input passes
// through unchanged.
func Sanitize(s string) string {
	if s == "" {
		return s
	}

	s = base64DataRe.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[base64 data removed, %d bytes]", len(match))
	})

	s = hexRunRe.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[hex data removed, %d chars]", len(match))
	})

	if len(s) > MaxResultBytes {
		s = truncateUTF8(s)
	}

	return s
}

// truncateUTF8 bounds s to MaxResultBytes including the truncation note, so
// a second pass over the output is a no-op. The cut backs off to a rune
// boundary.
func truncateUTF8(s string) string {
	note := fmt.Sprintf("\n...[truncated, %d total bytes]", len(s))
	budget := MaxResultBytes - len(note)
	if budget < 0 {
		budget = 0
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + note
}
