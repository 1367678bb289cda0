package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxAge is how old a persisted snapshot may be at startup before it
// is refreshed.
const DefaultMaxAge = 24 * time.Hour

// Refresh outcomes reported to the Observer.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Operator notices sent after the nightly refresh.
const (
	NoticeRefreshed = "🕛 Sonarr series cache refreshed successfully at midnight."
	NoticeEmpty     = "⚠️ Sonarr midnight cache refresh ran but returned no data. Check logs."
	NoticeFailed    = "⚠️ Sonarr midnight cache refresh failed. Check media-agent logs."
)

// Notifier delivers operator notices.
type Notifier interface {
	Notice(ctx context.Context, text string)
}

// Observer is told about every refresh.
type Observer interface {
	CacheRefreshed(result string, entries int)
}

// Scheduler warms the cache at startup and refreshes it every local
// midnight.
type Scheduler struct {
	cache   *Cache
	notify  Notifier
	observe Observer
	maxAge  time.Duration
	now     func() time.Time
}

// NewScheduler returns a Scheduler. notify and observe may be nil.
func NewScheduler(c *Cache, notify Notifier, observe Observer) *Scheduler {
	return &Scheduler{cache: c, notify: notify, observe: observe, maxAge: DefaultMaxAge, now: time.Now}
}

// Warm loads the persisted snapshot and refreshes when it is missing or
// older than the max age. A failed refresh is logged, not returned: the bot
// can still serve everything that does not need the cache.
func (s *Scheduler) Warm(ctx context.Context) {
	if _, err := s.cache.Load(); err != nil {
		slog.Warn("cache: could not load persisted snapshot", "err", err)
	}
	if s.cache.IsFresh(s.maxAge) {
		slog.Info("cache: using persisted snapshot")
		return
	}
	slog.Info("cache: snapshot missing or stale, refreshing")
	s.refresh(ctx)
}

// Run refreshes at each local midnight until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextMidnight(s.now())
		wait := next.Sub(s.now())
		slog.Info("cache: next refresh scheduled", "at", next, "in", wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.RefreshAndNotify(ctx)
	}
}

// RefreshAndNotify runs one scheduled refresh and tells the operator how
// it went.
func (s *Scheduler) RefreshAndNotify(ctx context.Context) {
	result := s.refresh(ctx)
	if s.notify == nil {
		return
	}
	switch result {
	case ResultOK:
		s.notify.Notice(ctx, NoticeRefreshed)
	case ResultEmpty:
		s.notify.Notice(ctx, NoticeEmpty)
	default:
		s.notify.Notice(ctx, NoticeFailed)
	}
}

// Refresh runs one on-demand refresh without notifying the operator and
// returns its result.
func (s *Scheduler) Refresh(ctx context.Context) string { return s.refresh(ctx) }

func (s *Scheduler) refresh(ctx context.Context) string {
	snap, err := s.cache.Refresh(ctx)
	result, entries := ResultOK, 0
	switch {
	case errors.Is(err, ErrEmpty):
		result = ResultEmpty
		slog.Warn("cache: refresh returned no series")
	case err != nil:
		result = ResultError
		slog.Error("cache: refresh failed", "err", err)
	default:
		entries = len(snap.Entries)
	}
	if s.observe != nil {
		s.observe.CacheRefreshed(result, entries)
	}
	return result
}

// NextMidnight is the first local midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
