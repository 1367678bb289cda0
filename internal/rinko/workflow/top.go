package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 30

	msgTopError = "Unable to fetch rankings right now."
)

// ranked is one line of a top list.
type ranked struct {
	title  string
	year   int
	size   int64
	rating float64
	detail string
}

func (e *Engine) showTop(ctx context.Context, r *request) error {
	tv := r.intent == nlp.IntentShowLargestTV || r.intent == nlp.IntentShowTopRatedTV
	bySize := r.intent == nlp.IntentShowLargestTV || r.intent == nlp.IntentShowLargestMovies
	limit := parseLimit(r.ref, r.ent.Limit, defaultTopLimit, maxTopLimit)

	var items []ranked
	if tv {
		if !e.requireService(ctx, r.conv, "Sonarr", e.deps.Sonarr) {
			return nil
		}
		series, err := e.deps.Sonarr.ListSeries(ctx)
		if err != nil {
			return fail(msgTopError, err)
		}
		for _, s := range series {
			files := 0
			if s.Statistics != nil {
				files = s.Statistics.EpisodeFileCount
			}
			items = append(items, ranked{
				title:  s.Title,
				year:   s.Year,
				size:   s.SizeOnDisk(),
				rating: s.Ratings.Score(),
				detail: fmt.Sprintf("%d files", files),
			})
		}
	} else {
		if !e.requireService(ctx, r.conv, "Radarr", e.deps.Radarr) {
			return nil
		}
		movies, err := e.deps.Radarr.ListMovies(ctx)
		if err != nil {
			return fail(msgTopError, err)
		}
		for _, m := range movies {
			detail := "not downloaded"
			if m.Downloaded() || m.FileSize() > 0 {
				detail = "downloaded"
			}
			items = append(items, ranked{
				title:  m.Title,
				year:   m.Year,
				size:   m.FileSize(),
				rating: m.Ratings.Score(),
				detail: detail,
			})
		}
	}

	items = rank(items, bySize, limit)
	if len(items) == 0 {
		noun := "movie"
		if tv {
			noun = "TV"
		}
		e.say(ctx, r.conv, fmt.Sprintf("No %s results available for that query.", noun))
		return nil
	}
	e.send(ctx, r.conv, chat.Markdown(renderTop(items, tv, bySize)))
	return nil
}

// rank keeps the items with a positive metric, best first.
func rank(items []ranked, bySize bool, limit int) []ranked {
	items = slices.DeleteFunc(items, func(it ranked) bool {
		if bySize {
			return it.size <= 0
		}
		return it.rating <= 0
	})
	slices.SortStableFunc(items, func(a, b ranked) int {
		if bySize {
			return cmp.Compare(b.size, a.size)
		}
		return cmp.Compare(b.rating, a.rating)
	})
	return items[:min(len(items), limit)]
}

func renderTop(items []ranked, tv, bySize bool) string {
	var title string
	switch {
	case bySize && tv:
		title = "📦 Largest TV Shows"
	case bySize:
		title = "📦 Largest Movies"
	case tv:
		title = "⭐️ Top-rated TV Shows"
	default:
		title = "⭐️ Top-rated Movies"
	}
	lines := []string{title, ""}
	for i, it := range items {
		name := it.title
		if it.year > 0 {
			name = fmt.Sprintf("%s (%d)", it.title, it.year)
		}
		if bySize {
			lines = append(lines, fmt.Sprintf("%d. %s — %s — %s", i+1, name, format.Bytes(it.size), it.detail))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s — %.1f/10", i+1, name, it.rating))
		}
	}
	return strings.Join(lines, "\n")
}
