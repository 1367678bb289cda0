// Package cache keeps an in-memory snapshot of the Sonarr library so title
// lookups do not hit Sonarr on every chat turn.
//
// The snapshot is replaced atomically on refresh. A failed or empty refresh
// leaves the previous snapshot in place. Snapshots are optionally persisted
// so a restart within the freshness window skips the initial download.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdobrica/Rinko/internal/rinko/resolver"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

// ErrEmpty is returned by Refresh when Sonarr answered with no series.
var ErrEmpty = errors.New("cache: sonarr returned no series")

// Entry is the cached view of one series.
type Entry struct {
	ID                int    `json:"id"`
	Title             string `json:"title"`
	CleanTitle        string `json:"cleanTitle"`
	EpisodeFileCount  int    `json:"episodeFileCount"`
	TotalEpisodeCount int    `json:"totalEpisodeCount"`
	Monitored         bool   `json:"monitored"`
	Ended             bool   `json:"ended"`
	Path              string `json:"path"`
}

// FromSeries maps a Sonarr series to a cache entry.
func FromSeries(s sonarr.Series) Entry {
	e := Entry{
		ID:         s.ID,
		Title:      s.Title,
		CleanTitle: s.CleanTitle,
		Monitored:  s.Monitored,
		Ended:      s.Ended,
		Path:       s.Path,
	}
	if e.CleanTitle == "" {
		e.CleanTitle = resolver.Normalize(s.Title)
	}
	if s.Statistics != nil {
		e.EpisodeFileCount = s.Statistics.EpisodeFileCount
		e.TotalEpisodeCount = s.Statistics.TotalEpisodeCount
	}
	return e
}

// Snapshot is an immutable copy of the library at UpdatedAt.
type Snapshot struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SeriesLister is the slice of the Sonarr client the cache needs.
type SeriesLister interface {
	ListSeries(ctx context.Context) ([]sonarr.Series, error)
}

// Persister stores snapshots across restarts.
type Persister interface {
	// Load returns nil, nil when nothing was saved yet.
	Load() (*Snapshot, error)
	Save(s *Snapshot) error
}

// Cache holds the current snapshot. It is safe for concurrent use.
type Cache struct {
	lister  SeriesLister
	persist Persister
	now     func() time.Time

	refreshMu sync.Mutex
	current   atomic.Pointer[Snapshot]
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersister saves every successful refresh and enables Load.
func WithPersister(p Persister) Option { return func(c *Cache) { c.persist = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New returns an empty cache backed by lister.
func New(lister SeriesLister, opts ...Option) *Cache {
	c := &Cache{lister: lister, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load restores the persisted snapshot, if any. It reports whether one was
// found.
func (c *Cache) Load() (bool, error) {
	if c.persist == nil {
		return false, nil
	}
	snap, err := c.persist.Load()
	if err != nil {
		return false, fmt.Errorf("cache: load: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	c.current.Store(snap)
	slog.Info("cache: loaded persisted snapshot", "series", len(snap.Entries), "updated_at", snap.UpdatedAt)
	return true, nil
}

// Snapshot returns the current snapshot, or nil before the first load.
func (c *Cache) Snapshot() *Snapshot { return c.current.Load() }

// Entries returns the current entries. The slice must not be modified.
func (c *Cache) Entries() []Entry {
	if s := c.current.Load(); s != nil {
		return s.Entries
	}
	return nil
}

// IsFresh reports whether a snapshot exists and is younger than maxAge.
func (c *Cache) IsFresh(maxAge time.Duration) bool {
	s := c.current.Load()
	return s != nil && c.now().Sub(s.UpdatedAt) < maxAge
}

// Refresh downloads every series and swaps in a new snapshot. Concurrent
// calls are serialised. On error the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	series, err := c.lister.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: refresh: %w", err)
	}
	if len(series) == 0 {
		return nil, ErrEmpty
	}

	entries := make([]Entry, len(series))
	for i, s := range series {
		entries[i] = FromSeries(s)
	}
	snap := &Snapshot{Entries: entries, UpdatedAt: c.now()}
	c.current.Store(snap)

	if c.persist != nil {
		if err := c.persist.Save(snap); err != nil {
			slog.Warn("cache: failed to persist snapshot", "err", err)
		}
	}
	slog.Info("cache: refreshed", "series", len(entries))
	return snap, nil
}

// Find ranks the current entries against query, best first.
func (c *Cache) Find(query string) []Entry {
	return Find(c.Entries(), query)
}

// ByID returns the entry with the given Sonarr id.
func (c *Cache) ByID(id int) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Find ranks entries by title similarity to query, dropping weak matches.
func Find(entries []Entry, query string) []Entry {
	matches := resolver.Rank(entries, query, func(e Entry) string { return e.Title })
	out := make([]Entry, len(matches))
	for i, m := range matches {
		out[i] = m.Item
	}
	return out
}
