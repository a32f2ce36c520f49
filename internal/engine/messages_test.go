package engine

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreviewKeepsRunesWhole(t *testing.T) {
	short := strings.Repeat("é", 60)
	if got := preview(short); got != short {
		t.Fatalf("short preview changed: %q", got)
	}

	got := preview(strings.Repeat("é", 100))
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Fatalf("preview has %d runes, want 80", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview not elided: %q", got)
	}
}

func TestPreviewCollapsesWhitespace(t *testing.T) {
	if got := preview("  shot 010\n\tnotes  "); got != "shot 010 notes" {
		t.Fatalf("got %q", got)
	}
}
