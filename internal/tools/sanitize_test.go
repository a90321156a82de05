package tools

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeEmptyPassesThrough(t *testing.T) {
	if got := Sanitize(""); got != "" {
		t.Fatalf("Sanitize(\"\") = %q", got)
	}
}

func TestSanitizeBase64DataURL(t *testing.T) {
	payload := strings.Repeat("A", 503)
	input := "prefix data:image/png;base64," + payload + " suffix"

	got := Sanitize(input)

	if !strings.Contains(got, "prefix") || !strings.Contains(got, "suffix") {
		t.Fatalf("surrounding text lost: %q", got)
	}
	total := len("data:image/png;base64,") + len(payload)
	want := fmt.Sprintf("[base64 data removed, %d bytes]", total)
	if !strings.Contains(got, want) {
		t.Fatalf("missing %q in %q", want, got)
	}
	if strings.Contains(got, payload) {
		t.Fatal("raw base64 payload survived")
	}
}

func TestSanitizeHexRun(t *testing.T) {
	hex := strings.Repeat("deadbeef", 100) // 800 hex chars
	input := "before " + hex + " after"

	got := Sanitize(input)

	if !strings.Contains(got, "[hex data removed, 800 chars]") {
		t.Fatalf("hex run not scrubbed: %q", got)
	}
	if strings.Contains(got, hex) {
		t.Fatal("raw hex payload survived")
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Fatal("surrounding text lost")
	}
}

func TestSanitizeHexRunBoundary(t *testing.T) {
	run199 := strings.Repeat("a", 199)
	if got := Sanitize("x " + run199 + " y"); !strings.Contains(got, run199) {
		t.Fatal("199-char hex run must be preserved")
	}

	run200 := strings.Repeat("a", 200)
	if got := Sanitize("x " + run200 + " y"); strings.Contains(got, run200) {
		t.Fatal("200-char hex run must be scrubbed")
	}
}

func TestSanitizeCombined(t *testing.T) {
	b64 := "data:image/png;base64," + strings.Repeat("A", 500)
	hex := strings.Repeat("deadbeef", 100)
	input := "prefix " + b64 + " middle " + hex + " suffix"

	got := Sanitize(input)

	for _, want := range []string{"prefix", "middle", "suffix", "base64 data removed", "[hex data removed, 800 chars]"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in sanitized output", want)
		}
	}
}

func TestSanitizeTruncation(t *testing.T) {
	exactly := strings.Repeat("x", MaxResultBytes)
	if got := Sanitize(exactly); got != exactly {
		t.Fatal("result of exactly the limit must not be truncated")
	}

	over := strings.Repeat("x", MaxResultBytes+1)
	got := Sanitize(over)
	if len(got) > MaxResultBytes {
		t.Fatalf("truncated result is %d bytes, limit %d", len(got), MaxResultBytes)
	}
	want := fmt.Sprintf("...[truncated, %d total bytes]", MaxResultBytes+1)
	if !strings.HasSuffix(got, want) {
		t.Fatalf("missing truncation note, got tail %q", got[len(got)-60:])
	}
}

func TestSanitizeNeverSplitsRunes(t *testing.T) {
	// Multibyte content straddling the cut point.
	s := strings.Repeat("héllo wörld ", MaxResultBytes/12+10)
	got := Sanitize(s)
	if !utf8.ValidString(got) {
		t.Fatal("sanitized output contains a truncated code point")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"data:image/png;base64," + strings.Repeat("A", 600),
		strings.Repeat("deadbeef", 100),
		strings.Repeat("z", MaxResultBytes+500),
		"mixed data:text/plain;base64," + strings.Repeat("Q", 300) + " " + strings.Repeat("0123456789abcdef", 20),
	}
	for i, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("case %d: sanitize is not idempotent", i)
		}
	}
}
