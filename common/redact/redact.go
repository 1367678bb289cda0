// Package redact strips credentials from text before it is logged or echoed
// into a chat.
//
// Backend errors frequently embed the request URL, and several of the APIs
// Rinko talks to carry their credential in it: the Telegram bot token sits in
// the path, TMDB takes api_key as a query parameter and Plex accepts
// X-Plex-Token the same way. Errors pass through String or URLs (or both)
// before they reach slog.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

var (
	botTokenPath = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)
	secretQuery  = regexp.MustCompile(`(?i)\b(api_key|apikey|x-plex-token|token|access_token|password)=([^&\s"']+)`)
)

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid spurious
// redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// URLs masks credentials that live inside URLs: Telegram's /bot<token> path
// segment and well-known secret query parameters.
func URLs(s string) string {
	s = botTokenPath.ReplaceAllString(s, "/bot"+placeholder)
	return secretQuery.ReplaceAllString(s, "$1="+placeholder)
}

// Error is a nil-safe shorthand for URLs(String(err.Error(), secrets...)).
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return URLs(String(err.Error(), sensitiveValues...))
}
