// Package radarr is a client for the Radarr v3 endpoints Rinko needs.
package radarr

import (
	"context"
	"net/url"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
)

// Movie is a Radarr movie resource.
type Movie struct {
	ID                  int         `json:"id,omitempty"`
	Title               string      `json:"title"`
	TitleSlug           string      `json:"titleSlug,omitempty"`
	TmdbID              int         `json:"tmdbId,omitempty"`
	ImdbID              string      `json:"imdbId,omitempty"`
	Year                int         `json:"year,omitempty"`
	Studio              string      `json:"studio,omitempty"`
	Status              string      `json:"status,omitempty"`
	Overview            string      `json:"overview,omitempty"`
	Runtime             int         `json:"runtime,omitempty"`
	HasFile             bool        `json:"hasFile"`
	Monitored           bool        `json:"monitored"`
	IsAvailable         *bool       `json:"isAvailable,omitempty"`
	MinimumAvailability string      `json:"minimumAvailability,omitempty"`
	SizeOnDisk          int64       `json:"sizeOnDisk"`
	QualityProfileID    int         `json:"qualityProfileId,omitempty"`
	MovieFile           *MovieFile  `json:"movieFile,omitempty"`
	Images              []arr.Image `json:"images,omitempty"`
	RemotePoster        string      `json:"remotePoster,omitempty"`
	Ratings             arr.Ratings `json:"ratings"`
}

// Downloaded reports whether a file exists for the movie.
func (m Movie) Downloaded() bool { return m.HasFile || m.MovieFile != nil }

// FileSize prefers the movie file's size over the aggregate.
func (m Movie) FileSize() int64 {
	if m.MovieFile != nil && m.MovieFile.Size > 0 {
		return m.MovieFile.Size
	}
	return m.SizeOnDisk
}

// QualityName is the movie file's quality, or "".
func (m Movie) QualityName() string {
	if m.MovieFile == nil {
		return ""
	}
	return m.MovieFile.Quality.Quality.Name
}

// MovieFile is the file backing a movie.
type MovieFile struct {
	ID      int              `json:"id"`
	Size    int64            `json:"size"`
	Quality arr.QualityModel `json:"quality"`
}

// Client talks to Radarr.
type Client struct {
	api *arr.Client
}

// New returns a Client for baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{api: arr.NewClient(arr.Config{Service: "radarr", BaseURL: baseURL, APIKey: apiKey})}
}

// Configured reports whether Radarr credentials are present.
func (c *Client) Configured() bool { return c.api.Configured() }

// Ping checks that Radarr answers with the configured API key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.SystemStatus(ctx)
	return err
}

// ListMovies returns the whole library.
func (c *Client) ListMovies(ctx context.Context) ([]Movie, error) {
	var out []Movie
	if err := c.api.Get(ctx, "/api/v3/movie", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LookupMovie searches the metadata provider.
func (c *Client) LookupMovie(ctx context.Context, term string) ([]Movie, error) {
	var out []Movie
	if err := c.api.Get(ctx, "/api/v3/movie/lookup", url.Values{"term": {term}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMovie adds a movie, monitored, and starts a search for it.
func (c *Client) AddMovie(ctx context.Context, m Movie, d arr.Defaults) (*Movie, error) {
	availability := m.MinimumAvailability
	if availability == "" {
		availability = "announced"
	}
	payload := map[string]any{
		"title":               m.Title,
		"tmdbId":              m.TmdbID,
		"imdbId":              m.ImdbID,
		"year":                m.Year,
		"qualityProfileId":    d.QualityProfileID,
		"rootFolderPath":      d.RootFolderPath,
		"minimumAvailability": availability,
		"monitored":           true,
		"titleSlug":           m.TitleSlug,
		"addOptions":          map[string]any{"searchForMovie": true},
	}
	var out Movie
	if err := c.api.Post(ctx, "/api/v3/movie", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetQualityProfile moves the movies to a profile in one editor call.
func (c *Client) SetQualityProfile(ctx context.Context, movieIDs []int, profileID int) error {
	body := map[string]any{"movieIds": movieIDs, "qualityProfileId": profileID}
	return c.api.Put(ctx, "/api/v3/movie/editor", body, nil)
}

// MoviesSearch starts a search for the movies.
func (c *Client) MoviesSearch(ctx context.Context, movieIDs ...int) (*arr.Command, error) {
	return c.api.RunCommand(ctx, map[string]any{"name": "MoviesSearch", "movieIds": movieIDs})
}

// RootFolders lists the movie library roots.
func (c *Client) RootFolders(ctx context.Context) ([]arr.RootFolder, error) {
	return c.api.RootFolders(ctx)
}

// QualityProfiles lists the configured profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]arr.QualityProfile, error) {
	return c.api.QualityProfiles(ctx)
}
