// Package format renders sizes, progress bars and short lists for chat
// replies.
package format

import (
	"fmt"
	"strings"
)

var units = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// Bytes renders n using 1024-based steps labelled KB/MB/GB.
func Bytes(n int64) string {
	return scale(float64(n), 1024)
}

// BytesDecimal renders n using 1000-based steps.
func BytesDecimal(n int64) string {
	return scale(float64(n), 1000)
}

// GB renders n as decimal gigabytes with one fraction digit, e.g. "42.1 GB".
func GB(n int64) string {
	return fmt.Sprintf("%.1f GB", float64(n)/1e9)
}

func scale(v, step float64) string {
	if v <= 0 {
		return "0 B"
	}
	idx := 0
	for v >= step && idx < len(units)-1 {
		v /= step
		idx++
	}
	precision := 1
	if idx < 3 && (v >= 10 || idx == 0) {
		precision = 0
	}
	return fmt.Sprintf("%.*f %s", precision, v, units[idx])
}

// Bar renders a fixed-width usage bar such as "[██████░░░░] 60%".
func Bar(percent float64, width int) string {
	if width <= 0 {
		width = 10
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent/100*float64(width) + 0.5)
	return fmt.Sprintf("[%s%s] %.0f%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), percent)
}

// Plural returns word with an "s" appended unless n is exactly one.
func Plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Truncate shortens s to at most max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// EpisodeLabel renders "S01E02", or "S01" when episode is zero.
func EpisodeLabel(season, episode int) string {
	if episode <= 0 {
		return fmt.Sprintf("S%02d", season)
	}
	return fmt.Sprintf("S%02dE%02d", season, episode)
}
