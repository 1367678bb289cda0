// Package tmdb searches The Movie Database for movie collections.
package tmdb

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/common/redact"
	"github.com/bdobrica/Rinko/common/retry"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("tmdb: TMDB_API_KEY is not configured")

// Collection is a search hit.
type Collection struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Overview   string  `json:"overview"`
	PosterPath string  `json:"poster_path"`
	Popularity float64 `json:"popularity"`
}

// Part is one movie in a collection.
type Part struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	Overview    string `json:"overview"`
	ImdbID      string `json:"imdb_id"`
	Order       int    `json:"order"`
}

// DisplayTitle falls back to Name for parts without a title.
func (p Part) DisplayTitle() string { return cmp.Or(p.Title, p.Name) }

// Year is the release year, or 0 when unknown.
func (p Part) Year() int {
	if len(p.ReleaseDate) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(p.ReleaseDate[:4])
	return y
}

// CollectionDetails is a collection with its parts in viewing order.
type CollectionDetails struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Overview string `json:"overview"`
	Parts    []Part `json:"parts"`
}

// Client is a TMDB v3 client.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New returns a Client. baseURL may be empty for the public API.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	q.Set("api_key", c.apiKey)
	target := c.baseURL + path + "?" + q.Encode()

	return retry.Do(ctx, retry.DefaultConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("tmdb: GET %s: %s", path, redact.Error(err, c.apiKey))
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("tmdb: read %s: %w", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("tmdb: GET %s: HTTP %d", path, resp.StatusCode)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("tmdb: decode %s: %w", path, err))
		}
		return nil
	})
}

// SearchCollections looks up collections by name. A blank query yields no
// results without a request.
func (c *Client) SearchCollections(ctx context.Context, query string) ([]Collection, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	var res struct {
		Results []Collection `json:"results"`
	}
	q := url.Values{"query": {query}, "include_adult": {"false"}, "language": {"en-US"}}
	if err := c.get(ctx, "/search/collection", q, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Collection fetches a collection with its parts sorted by order, then by
// release date. Parts without a date sort first.
func (c *Client) Collection(ctx context.Context, id int) (*CollectionDetails, error) {
	var out CollectionDetails
	if err := c.get(ctx, "/collection/"+strconv.Itoa(id), url.Values{"language": {"en-US"}}, &out); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out.Parts, func(a, b Part) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), strings.Compare(a.ReleaseDate, b.ReleaseDate))
	})
	return &out, nil
}

var seriesWords = map[string]bool{
	"movie": true, "movies": true, "film": true, "films": true,
	"collection": true, "series": true, "franchise": true,
}

// CleanQuery strips words like "movies" or "collection" from a request so
// "harry potter movies" searches for "harry potter".
func CleanQuery(q string) string {
	fields := strings.Fields(q)
	kept := fields[:0]
	for _, f := range fields {
		if !seriesWords[strings.ToLower(f)] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
