// Package plex reads watch state from a Plex Media Server: the TV library,
// per-season watched counts and the "continue watching" hub.
package plex

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/bdobrica/Rinko/common/redact"
	"github.com/bdobrica/Rinko/common/retry"
)

// ErrNotConfigured is returned when the Plex URL or token is missing.
var ErrNotConfigured = errors.New("plex: not configured")

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	// TVSection is the library section id holding TV shows.
	TVSection string
	Timeout   time.Duration
}

// Show is a TV show in the library.
type Show struct {
	Title     string `json:"title"`
	RatingKey string `json:"ratingKey"`
}

// Season carries the watched counters for one season of a show.
type Season struct {
	Title           string `json:"title"`
	Index           int    `json:"index"`
	RatingKey       string `json:"ratingKey"`
	LeafCount       int    `json:"leafCount"`
	ViewedLeafCount int    `json:"viewedLeafCount"`
	LastViewedAt    int64  `json:"lastViewedAt"`
}

// FullyWatched reports whether every episode of a regular season was viewed.
func (s Season) FullyWatched() bool {
	return s.Index != 0 && s.LeafCount > 0 && s.ViewedLeafCount == s.LeafCount
}

// Item is an episode from the continue-watching hub.
type Item struct {
	Title        string
	EpisodeTitle string
	Season       int
	Episode      int
	RatingKey    string
	Duration     int64
	ViewOffset   int64
	LastViewedAt int64
}

// InProgress reports whether playback stopped somewhere inside the episode.
func (i Item) InProgress() bool {
	return i.ViewOffset > 0 && i.Duration > 0 && i.ViewOffset < i.Duration
}

// Percent is the playback progress rounded to an integer percentage.
func (i Item) Percent() int {
	if i.Duration <= 0 {
		return 0
	}
	return int((i.ViewOffset*100 + i.Duration/2) / i.Duration)
}

// Client is a Plex client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether URL and token are set.
func (c *Client) Configured() bool { return c.cfg.BaseURL != "" && c.cfg.Token != "" }

type metadata struct {
	Title            string `json:"title"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentTitle      string `json:"parentTitle"`
	RatingKey        string `json:"ratingKey"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	ParentIndex      int    `json:"parentIndex"`
	LeafCount        int    `json:"leafCount"`
	ViewedLeafCount  int    `json:"viewedLeafCount"`
	Duration         int64  `json:"duration"`
	ViewOffset       int64  `json:"viewOffset"`
	LastViewedAt     int64  `json:"lastViewedAt"`
}

type container struct {
	MediaContainer struct {
		Metadata []metadata `json:"Metadata"`
		Hub      []struct {
			Title    string     `json:"title"`
			Metadata []metadata `json:"Metadata"`
		} `json:"Hub"`
	} `json:"MediaContainer"`
}

func (c *Client) get(ctx context.Context, path string) (*container, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var out container
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("X-Plex-Token", c.cfg.Token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("plex: GET %s: %s", path, redact.Error(err, c.cfg.Token))
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("plex: read %s: %w", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("plex: GET %s: HTTP %d", path, resp.StatusCode)
			if resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		out = container{}
		if err := json.Unmarshal(body, &out); err != nil {
			return retry.Permanent(fmt.Errorf("plex: decode %s: %w", path, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Shows lists the TV library section.
func (c *Client) Shows(ctx context.Context) ([]Show, error) {
	res, err := c.get(ctx, "/library/sections/"+c.cfg.TVSection+"/all")
	if err != nil {
		return nil, err
	}
	shows := make([]Show, 0, len(res.MediaContainer.Metadata))
	for _, m := range res.MediaContainer.Metadata {
		if m.Title == "" || m.RatingKey == "" {
			continue
		}
		shows = append(shows, Show{Title: m.Title, RatingKey: m.RatingKey})
	}
	return shows, nil
}

// Seasons lists the seasons of a show.
func (c *Client) Seasons(ctx context.Context, ratingKey string) ([]Season, error) {
	res, err := c.get(ctx, "/library/metadata/"+ratingKey+"/children")
	if err != nil {
		return nil, err
	}
	seasons := make([]Season, 0, len(res.MediaContainer.Metadata))
	for _, m := range res.MediaContainer.Metadata {
		seasons = append(seasons, Season{
			Title:           m.Title,
			Index:           m.Index,
			RatingKey:       m.RatingKey,
			LeafCount:       m.LeafCount,
			ViewedLeafCount: m.ViewedLeafCount,
			LastViewedAt:    m.LastViewedAt,
		})
	}
	return seasons, nil
}

// ContinueWatching returns the items of the continue-watching hub.
func (c *Client) ContinueWatching(ctx context.Context) ([]Item, error) {
	res, err := c.get(ctx, "/hubs/continueWatching")
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, hub := range res.MediaContainer.Hub {
		if !strings.EqualFold(hub.Title, "continue watching") {
			continue
		}
		for _, m := range hub.Metadata {
			title := cmp.Or(m.GrandparentTitle, m.ParentTitle, m.Title)
			items = append(items, Item{
				Title:        title,
				EpisodeTitle: m.Title,
				Season:       m.ParentIndex,
				Episode:      m.Index,
				RatingKey:    m.RatingKey,
				Duration:     m.Duration,
				ViewOffset:   m.ViewOffset,
				LastViewedAt: m.LastViewedAt,
			})
		}
		break
	}
	return items, nil
}

// InProgress returns the partially watched continue-watching items, most
// recently viewed first.
func (c *Client) InProgress(ctx context.Context) ([]Item, error) {
	items, err := c.ContinueWatching(ctx)
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(i Item) bool { return !i.InProgress() })
	slices.SortStableFunc(items, func(a, b Item) int { return cmp.Compare(b.LastViewedAt, a.LastViewedAt) })
	return items, nil
}

// FindShow returns the show titled title. A case-insensitive exact match
// wins; otherwise the closest fuzzy match is used. It returns false when
// nothing matches.
func FindShow(shows []Show, title string) (Show, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Show{}, false
	}
	for _, s := range shows {
		if strings.EqualFold(s.Title, title) {
			return s, true
		}
	}
	titles := make([]string, len(shows))
	for i, s := range shows {
		titles[i] = s.Title
	}
	ranks := fuzzy.RankFindNormalizedFold(title, titles)
	if len(ranks) == 0 {
		return Show{}, false
	}
	// Lower distance is closer.
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Distance < ranks[j].Distance })
	return shows[ranks[0].OriginalIndex], true
}
