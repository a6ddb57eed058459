package memory

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Short string changed: %q", got)
	}
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Errorf("ASCII truncation: %q", got)
	}
	if got := truncate("abcdefgh", 2); got != "..." {
		t.Errorf("Tiny budget: %q", got)
	}

	// Multibyte content must never be cut mid-rune.
	s := strings.Repeat("日本語の長い記憶", 8)
	for maxLen := 4; maxLen < 40; maxLen++ {
		got := truncate(s, maxLen)
		if !utf8.ValidString(got) {
			t.Fatalf("Invalid UTF-8 at maxLen=%d: %q", maxLen, got)
		}
		if len(got) > maxLen {
			t.Errorf("Result over budget at maxLen=%d: %d bytes", maxLen, len(got))
		}
		if !strings.HasSuffix(got, "...") {
			t.Errorf("Missing ellipsis at maxLen=%d: %q", maxLen, got)
		}
	}
}
