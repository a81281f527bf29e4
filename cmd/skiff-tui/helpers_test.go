package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWrapTextBreaksLongWords(t *testing.T) {
	out := wrapText("xoxpaaaaaaaaaaaaaaaaaaaa", 8)
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 8 {
			t.Fatalf("line %q exceeds width 8", line)
		}
	}
}

func TestWrapTextKeepsShortLines(t *testing.T) {
	in := "short line\nanother"
	if got := wrapText(in, 40); got != in {
		t.Fatalf("wrapText = %q, want unchanged", got)
	}
}

func TestCompactSingleLine(t *testing.T) {
	got := compactSingleLine("a\nb\t c   d", 80)
	if got != "a b c d" {
		t.Fatalf("compactSingleLine = %q", got)
	}
	long := compactSingleLine(strings.Repeat("x", 100), 10)
	if len(long) != 10 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncated = %q", long)
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int]string{
		512:     "512B",
		2048:    "2.0KB",
		3145728: "3.0MB",
	}
	for size, want := range cases {
		if got := formatFileSize(size); got != want {
			t.Fatalf("formatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}

func TestTruncateRunesKeepsMultibyteIntact(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("truncateRunes left %q", got)
	}
	got := truncateRunes(strings.Repeat("é", 10), 4)
	if got != strings.Repeat("é", 4)+"..." {
		t.Fatalf("truncateRunes = %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncateRunes produced invalid UTF-8: %q", got)
	}
}

func TestTruncateBytesBacksUpToRuneBoundary(t *testing.T) {
	if got := truncateBytes("plain", 10); got != "plain" {
		t.Fatalf("truncateBytes left %q", got)
	}
	// Five two-byte runes; a five-byte cap lands mid-rune and must back
	// up to four bytes.
	got := truncateBytes(strings.Repeat("é", 5), 5)
	if got != strings.Repeat("é", 2) {
		t.Fatalf("truncateBytes = %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncateBytes produced invalid UTF-8: %q", got)
	}
}
