package format_test

import (
	"testing"

	"github.com/bdobrica/Rinko/internal/rinko/format"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{20 * 1024, "20 KB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := format.Bytes(tt.in); got != tt.want {
			t.Errorf("Bytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBytesDecimal(t *testing.T) {
	if got := format.BytesDecimal(1_500_000_000); got != "1.5 GB" {
		t.Errorf("BytesDecimal = %q, want 1.5 GB", got)
	}
	if got := format.BytesDecimal(999); got != "999 B" {
		t.Errorf("BytesDecimal = %q, want 999 B", got)
	}
}

func TestGB(t *testing.T) {
	if got := format.GB(42_100_000_000); got != "42.1 GB" {
		t.Errorf("GB = %q", got)
	}
}

func TestBar(t *testing.T) {
	if got := format.Bar(60, 10); got != "[██████░░░░] 60%" {
		t.Errorf("Bar(60) = %q", got)
	}
	if got := format.Bar(150, 4); got != "[████] 100%" {
		t.Errorf("Bar(150) = %q", got)
	}
}

func TestEpisodeLabel(t *testing.T) {
	if got := format.EpisodeLabel(1, 2); got != "S01E02" {
		t.Errorf("EpisodeLabel(1,2) = %q", got)
	}
	if got := format.EpisodeLabel(3, 0); got != "S03" {
		t.Errorf("EpisodeLabel(3,0) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := format.Truncate("abcdef", 4); got != "abc…" {
		t.Errorf("Truncate = %q", got)
	}
	if got := format.Truncate("abc", 4); got != "abc" {
		t.Errorf("Truncate = %q", got)
	}
}
