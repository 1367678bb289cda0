// Package nlp turns a chat message into a structured Classification using an
// OpenAI-compatible chat completions endpoint, and asks the same model to
// pick one entry from a candidate pool when a reference matched nothing
// literally.
//
// Model output is never trusted as-is: every reply is validated against an
// embedded JSON Schema before it is decoded, and the Classifier wrapper maps
// anything outside the known intent set to IntentUnknown.
package nlp

import (
	"context"
	"errors"

	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

// ErrRateLimit is returned when the upstream API reports HTTP 429.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the model's reply is not valid JSON or
// does not satisfy the response schema.
var ErrMalformedOutput = errors.New("nlp: malformed response from model")

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("nlp: not configured")

// Intent is the classified purpose of a message.
type Intent string

const (
	IntentRedownloadTV         Intent = "redownload_tv"
	IntentTidyTV               Intent = "tidy_tv"
	IntentListFullyWatchedTV   Intent = "list_fully_watched_tv"
	IntentAddTV                Intent = "add_tv"
	IntentAddMovie             Intent = "add_movie"
	IntentAddMedia             Intent = "add_media"
	IntentDownloadMovieSeries  Intent = "download_movie_series"
	IntentNASEmptyRecycleBin   Intent = "nas_empty_recycle_bin"
	IntentNASCheckFreeSpace    Intent = "nas_check_free_space"
	IntentQBUnregistered       Intent = "qb_delete_unregistered"
	IntentQBUnregisteredTV     Intent = "qb_delete_unregistered_tv"
	IntentQBUnregisteredMovies Intent = "qb_delete_unregistered_movies"
	IntentShowLargestTV        Intent = "show_largest_tv"
	IntentShowLargestMovies    Intent = "show_largest_movies"
	IntentShowTopRatedTV       Intent = "show_top_rated_tv"
	IntentShowTopRatedMovies   Intent = "show_top_rated_movies"
	IntentOptimizeMovies       Intent = "optimize_movies"
	IntentOptimizeTV           Intent = "optimize_tv"
	IntentHaveMedia            Intent = "have_media"
	IntentListTVProfiles       Intent = "list_tv_profiles"
	IntentListMovieProfiles    Intent = "list_movie_profiles"
	IntentHelp                 Intent = "help"
	IntentUnknown              Intent = "unknown"
)

// Media types carried in Entities.Type.
const (
	TypeTV    = "tv"
	TypeMovie = "movie"
	TypeAuto  = "auto"
)

// Entities are the slots extracted from a message. Zero values mean the
// user did not say.
type Entities struct {
	Title   string `json:"title"`
	Season  int    `json:"seasonNumber"`
	Episode int    `json:"episodeNumber"`
	Type    string `json:"type,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// Classification is the structured reading of one message.
type Classification struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
	// Reference is the raw phrase the user used for the target, even when
	// vague ("the one from last night").
	Reference string `json:"reference"`
}

// Provider classifies messages and resolves ambiguous references.
// Implementations must be safe for concurrent use.
type Provider interface {
	Classify(ctx context.Context, text string) (*Classification, error)
	ResolveAmbiguous(ctx context.Context, reference string, pool []resolver.Candidate) (*resolver.Candidate, error)
}

// Replies for classifier failures, shown verbatim in chat.
const (
	RateLimitMessage       = "⏳ Too many requests right now. Please try again in a moment."
	APIRateLimitMessage    = "⏳ The language model is rate-limited at the moment. Please try again shortly."
	MalformedOutputMessage = "I didn't quite understand that. Try rephrasing, or send /help."
	ClassifyFailedMessage  = "⚠️ I couldn't process that request. Please try again."
)
