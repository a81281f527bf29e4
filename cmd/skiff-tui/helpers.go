package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func ternary[T any](condition bool, whenTrue T, whenFalse T) T {
	if condition {
		return whenTrue
	}
	return whenFalse
}

func shortClock(at time.Time) string {
	if at.IsZero() {
		return "--:--"
	}
	return at.Local().Format("15:04")
}

// truncateRunes caps text at max runes with an ellipsis. Counting runes
// keeps a multi-byte character from being cut in half.
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// truncateBytes caps text at max bytes, backing the cut up to a rune
// boundary.
func truncateBytes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// compactSingleLine flattens text to one line and truncates it for status
// and log rows.
func compactSingleLine(text string, limit int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if limit > 3 && len(flat) > limit {
		return truncateBytes(flat, limit-3) + "..."
	}
	return flat
}

// wrapText hard-wraps long words too, so a pasted token or URL cannot blow
// out the pane width.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= width {
			out = append(out, line)
			continue
		}
		var b strings.Builder
		lineLen := 0
		for _, word := range strings.Fields(line) {
			for len(word) > width {
				if lineLen > 0 {
					b.WriteString("\n")
					lineLen = 0
				}
				b.WriteString(word[:width])
				b.WriteString("\n")
				word = word[width:]
			}
			if lineLen > 0 && lineLen+1+len(word) > width {
				b.WriteString("\n")
				lineLen = 0
			}
			if lineLen > 0 {
				b.WriteString(" ")
				lineLen++
			}
			b.WriteString(word)
			lineLen += len(word)
		}
		out = append(out, b.String())
	}
	return strings.Join(out, "\n")
}

func formatFileSize(size int) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(size)/float64(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(size)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", size)
	}
}
