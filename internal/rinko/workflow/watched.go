package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

const (
	msgWatchedChecking = "Checking Plex and Sonarr for fully watched, fully aired seasons. This may take a few seconds…"
	msgWatchedNoPlex   = "No fully watched seasons found in Plex."
	msgWatchedNone     = "No fully watched, fully aired seasons with files were found."
	msgWatchedError    = "Error while checking fully watched seasons."

	// plexConcurrency bounds parallel Plex and Sonarr lookups.
	plexConcurrency = 4
)

type watchedSeason struct {
	number   int
	episodes int
	size     int64
}

type watchedShow struct {
	title   string
	seasons []watchedSeason
}

func (e *Engine) fullyWatched(ctx context.Context, r *request) error {
	if !e.requireService(ctx, r.conv, "Plex", e.deps.Plex) || !e.requireService(ctx, r.conv, "Sonarr", e.deps.Sonarr) {
		return nil
	}
	if r.status != "" {
		e.progress(ctx, r, msgWatchedChecking)
	} else {
		e.say(ctx, r.conv, msgWatchedChecking)
	}

	shows, err := e.deps.Plex.Shows(ctx)
	if err != nil {
		return fail(msgWatchedError, err)
	}

	// Plex side: which seasons has everyone finished?
	watched := make([][]int, len(shows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plexConcurrency)
	for i, show := range shows {
		g.Go(func() error {
			seasons, err := e.deps.Plex.Seasons(gctx, show.RatingKey)
			if err != nil {
				return fmt.Errorf("workflow: seasons of %q: %w", show.Title, err)
			}
			for _, s := range seasons {
				if s.Index > 0 && s.FullyWatched() {
					watched[i] = append(watched[i], s.Index)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(msgWatchedError, err)
	}
	if !slices.ContainsFunc(watched, func(s []int) bool { return len(s) > 0 }) {
		e.say(ctx, r.conv, msgWatchedNoPlex)
		return nil
	}

	// Sonarr side: keep fully aired seasons that still have files.
	results := make([]*watchedShow, len(shows))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(plexConcurrency)
	for i, show := range shows {
		if len(watched[i]) == 0 {
			continue
		}
		g.Go(func() error {
			res, err := e.sonarrWatched(gctx, show, watched[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(msgWatchedError, err)
	}

	found := slices.DeleteFunc(results, func(s *watchedShow) bool { return s == nil || len(s.seasons) == 0 })
	if len(found) == 0 {
		e.say(ctx, r.conv, msgWatchedNone)
		return nil
	}
	slices.SortFunc(found, func(a, b *watchedShow) int {
		return cmp.Compare(strings.ToLower(a.title), strings.ToLower(b.title))
	})
	e.say(ctx, r.conv, renderWatched(found))
	return nil
}

// sonarrWatched maps a Plex show to its Sonarr series and filters its
// watched seasons. A show missing from the cache yields nil.
func (e *Engine) sonarrWatched(ctx context.Context, show plex.Show, seasons []int) (*watchedShow, error) {
	matches := e.deps.Library.Find(show.Title)
	if len(matches) == 0 {
		trace.Logger(ctx, e.log).Debug("workflow: plex show not in sonarr cache", "title", show.Title)
		return nil, nil
	}
	entry := matches[0]
	for _, m := range matches {
		if resolver.Normalize(m.Title) == resolver.Normalize(show.Title) {
			entry = m
			break
		}
	}
	series, err := e.deps.Sonarr.GetSeries(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("workflow: series %d: %w", entry.ID, err)
	}

	out := &watchedShow{title: series.Title}
	for _, n := range seasons {
		s := series.Season(n)
		if s == nil || s.Statistics == nil {
			continue
		}
		st := s.Statistics
		if st.EpisodeCount == st.TotalEpisodeCount && st.SizeOnDisk > 0 {
			out.seasons = append(out.seasons, watchedSeason{number: n, episodes: st.EpisodeCount, size: st.SizeOnDisk})
		}
	}
	return out, nil
}

func renderWatched(shows []*watchedShow) string {
	var sb strings.Builder
	sb.WriteString("Fully watched seasons that are safe to tidy:\n")
	for _, show := range shows {
		slices.SortFunc(show.seasons, func(a, b watchedSeason) int { return cmp.Compare(a.number, b.number) })
		sb.WriteString("\n" + show.title + "\n")
		eps, size := 0, int64(0)
		for _, s := range show.seasons {
			fmt.Fprintf(&sb, "- S%d: %d eps (%s)\n", s.number, s.episodes, gb(s.size))
			eps += s.episodes
			size += s.size
		}
		fmt.Fprintf(&sb, "Total: %d eps, %s\n", eps, gb(size))
	}
	return strings.TrimRight(sb.String(), "\n")
}
