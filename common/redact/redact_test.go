package redact_test

import (
	"errors"
	"testing"

	"github.com/bdobrica/Rinko/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	line := "sonarr: GET /api/v3/series: X-Api-Key 0123456789abcdef0123456789abcdef rejected"
	got := redact.String(line, secret)
	const want = "sonarr: GET /api/v3/series: X-Api-Key [REDACTED] rejected"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "abc token"
	got := redact.String(line, "abc")
	if got != line {
		t.Fatalf("short value should not be redacted; got %q", got)
	}
}

func TestURLs(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{
			in:   `Post "https://api.telegram.org/bot123456:AA-bb_CC/sendMessage": dial tcp: timeout`,
			want: `Post "https://api.telegram.org/bot[REDACTED]/sendMessage": dial tcp: timeout`,
		},
		{
			in:   "GET https://api.themoviedb.org/3/search/collection?api_key=deadbeef&query=alien",
			want: "GET https://api.themoviedb.org/3/search/collection?api_key=[REDACTED]&query=alien",
		},
		{
			in:   "http://plex:32400/hubs/continueWatching?X-Plex-Token=zzzz",
			want: "http://plex:32400/hubs/continueWatching?X-Plex-Token=[REDACTED]",
		},
		{
			in:   "nothing to hide here",
			want: "nothing to hide here",
		},
	}
	for _, tc := range cases {
		if got := redact.URLs(tc.in); got != tc.want {
			t.Errorf("URLs(%q)\n got %q\nwant %q", tc.in, got, tc.want)
		}
	}
}

func TestError(t *testing.T) {
	if got := redact.Error(nil); got != "" {
		t.Fatalf("nil error should give empty string, got %q", got)
	}
	err := errors.New("login failed for password=hunter22 with key sekrit-key")
	got := redact.Error(err, "sekrit-key")
	const want = "login failed for password=[REDACTED] with key [REDACTED]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
