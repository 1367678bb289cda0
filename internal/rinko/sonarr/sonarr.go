// Package sonarr is a client for the subset of the Sonarr v3 API Rinko uses:
// series listing and lookup, episodes and their files, searches and series
// edits.
package sonarr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
)

// Series is a Sonarr series resource.
type Series struct {
	ID               int               `json:"id,omitempty"`
	Title            string            `json:"title"`
	CleanTitle       string            `json:"cleanTitle,omitempty"`
	TitleSlug        string            `json:"titleSlug,omitempty"`
	TvdbID           int               `json:"tvdbId,omitempty"`
	ImdbID           string            `json:"imdbId,omitempty"`
	Year             int               `json:"year,omitempty"`
	Network          string            `json:"network,omitempty"`
	Status           string            `json:"status,omitempty"`
	Overview         string            `json:"overview,omitempty"`
	Monitored        bool              `json:"monitored"`
	Ended            bool              `json:"ended,omitempty"`
	Path             string            `json:"path,omitempty"`
	QualityProfileID int               `json:"qualityProfileId,omitempty"`
	SeriesType       string            `json:"seriesType,omitempty"`
	Seasons          []Season          `json:"seasons,omitempty"`
	Statistics       *SeriesStatistics `json:"statistics,omitempty"`
	Images           []arr.Image       `json:"images,omitempty"`
	RemotePoster     string            `json:"remotePoster,omitempty"`
	Ratings          arr.Ratings       `json:"ratings"`
}

// SizeOnDisk is the total size of the series' files.
func (s Series) SizeOnDisk() int64 {
	if s.Statistics == nil {
		return 0
	}
	return s.Statistics.SizeOnDisk
}

// Season returns the season with the given number, or nil.
func (s Series) Season(number int) *Season {
	for i := range s.Seasons {
		if s.Seasons[i].SeasonNumber == number {
			return &s.Seasons[i]
		}
	}
	return nil
}

// SeriesStatistics aggregates file counts for a series.
type SeriesStatistics struct {
	SeasonCount       int   `json:"seasonCount"`
	EpisodeFileCount  int   `json:"episodeFileCount"`
	EpisodeCount      int   `json:"episodeCount"`
	TotalEpisodeCount int   `json:"totalEpisodeCount"`
	SizeOnDisk        int64 `json:"sizeOnDisk"`
}

// Season is one season entry of a series.
type Season struct {
	SeasonNumber int               `json:"seasonNumber"`
	Monitored    bool              `json:"monitored"`
	Statistics   *SeasonStatistics `json:"statistics,omitempty"`
}

// SeasonStatistics aggregates file counts for a season. EpisodeCount only
// counts aired episodes.
type SeasonStatistics struct {
	EpisodeFileCount  int   `json:"episodeFileCount"`
	EpisodeCount      int   `json:"episodeCount"`
	TotalEpisodeCount int   `json:"totalEpisodeCount"`
	SizeOnDisk        int64 `json:"sizeOnDisk"`
}

// Episode is a Sonarr episode. EpisodeFile is only populated when requested.
type Episode struct {
	ID            int          `json:"id"`
	SeriesID      int          `json:"seriesId"`
	SeasonNumber  int          `json:"seasonNumber"`
	EpisodeNumber int          `json:"episodeNumber"`
	Title         string       `json:"title"`
	HasFile       bool         `json:"hasFile"`
	Monitored     bool         `json:"monitored"`
	EpisodeFileID int          `json:"episodeFileId"`
	EpisodeFile   *EpisodeFile `json:"episodeFile,omitempty"`
}

// EpisodeFile is a file on disk backing an episode.
type EpisodeFile struct {
	ID      int              `json:"id"`
	Size    int64            `json:"size"`
	Quality arr.QualityModel `json:"quality"`
}

// Client talks to Sonarr.
type Client struct {
	api *arr.Client
}

// New returns a Client for baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{api: arr.NewClient(arr.Config{Service: "sonarr", BaseURL: baseURL, APIKey: apiKey})}
}

// NewWithConfig returns a Client with full control over the HTTP settings.
func NewWithConfig(cfg arr.Config) *Client {
	cfg.Service = "sonarr"
	return &Client{api: arr.NewClient(cfg)}
}

// Configured reports whether Sonarr credentials are present.
func (c *Client) Configured() bool { return c.api.Configured() }

// Ping checks that Sonarr answers with the configured API key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.SystemStatus(ctx)
	return err
}

// ListSeries returns every series in the library.
func (c *Client) ListSeries(ctx context.Context) ([]Series, error) {
	var out []Series
	if err := c.api.Get(ctx, "/api/v3/series", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSeries fetches one series.
func (c *Client) GetSeries(ctx context.Context, id int) (*Series, error) {
	var out Series
	if err := c.api.Get(ctx, fmt.Sprintf("/api/v3/series/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupSeries searches the metadata provider. Results already in the
// library carry a non-zero ID.
func (c *Client) LookupSeries(ctx context.Context, term string) ([]Series, error) {
	var out []Series
	if err := c.api.Get(ctx, "/api/v3/series/lookup", url.Values{"term": {term}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSeries applies mutate to the series as Sonarr returns it and writes
// it back. Working on the raw document keeps fields this package does not
// model intact.
func (c *Client) UpdateSeries(ctx context.Context, id int, mutate func(doc map[string]any)) error {
	path := fmt.Sprintf("/api/v3/series/%d", id)
	var doc map[string]any
	if err := c.api.Get(ctx, path, nil, &doc); err != nil {
		return err
	}
	mutate(doc)
	return c.api.Put(ctx, path, doc, nil)
}

// AddSeries adds a lookup result to the library with every season monitored
// and a search for missing episodes.
func (c *Client) AddSeries(ctx context.Context, s Series, d arr.Defaults) (*Series, error) {
	seasons := make([]map[string]any, 0, len(s.Seasons))
	for _, season := range s.Seasons {
		seasons = append(seasons, map[string]any{"seasonNumber": season.SeasonNumber, "monitored": true})
	}
	seriesType := s.SeriesType
	if seriesType == "" {
		seriesType = "standard"
	}
	payload := map[string]any{
		"title":            s.Title,
		"tvdbId":           s.TvdbID,
		"qualityProfileId": d.QualityProfileID,
		"rootFolderPath":   d.RootFolderPath,
		"seasons":          seasons,
		"monitored":        true,
		"titleSlug":        s.TitleSlug,
		"addOptions":       map[string]any{"searchForMissingEpisodes": true},
		"seasonFolder":     true,
		"seriesType":       seriesType,
	}
	var out Series
	if err := c.api.Post(ctx, "/api/v3/series", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Episodes lists a series' episodes including their files.
func (c *Client) Episodes(ctx context.Context, seriesID int) ([]Episode, error) {
	q := url.Values{
		"seriesId":           {strconv.Itoa(seriesID)},
		"includeEpisodeFile": {"true"},
	}
	var out []Episode
	if err := c.api.Get(ctx, "/api/v3/episode", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Episode fetches one episode.
func (c *Client) Episode(ctx context.Context, id int) (*Episode, error) {
	var out Episode
	if err := c.api.Get(ctx, fmt.Sprintf("/api/v3/episode/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EpisodeFile fetches one episode file.
func (c *Client) EpisodeFile(ctx context.Context, id int) (*EpisodeFile, error) {
	var out EpisodeFile
	if err := c.api.Get(ctx, fmt.Sprintf("/api/v3/episodefile/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEpisodeFile removes a file from disk. A zero id is a no-op.
func (c *Client) DeleteEpisodeFile(ctx context.Context, id int) error {
	if id == 0 {
		return nil
	}
	return c.api.Delete(ctx, fmt.Sprintf("/api/v3/episodefile/%d", id), nil)
}

// EpisodeSearch starts a search for the given episodes.
func (c *Client) EpisodeSearch(ctx context.Context, episodeIDs ...int) (*arr.Command, error) {
	return c.api.RunCommand(ctx, map[string]any{"name": "EpisodeSearch", "episodeIds": episodeIDs})
}

// SeriesSearch starts a search for every monitored episode of the series.
func (c *Client) SeriesSearch(ctx context.Context, seriesIDs ...int) (*arr.Command, error) {
	if len(seriesIDs) == 0 {
		return nil, nil
	}
	return c.api.RunCommand(ctx, map[string]any{"name": "SeriesSearch", "seriesIds": seriesIDs})
}

// Command fetches a command's state.
func (c *Client) Command(ctx context.Context, id int) (*arr.Command, error) {
	return c.api.Command(ctx, id)
}

// RootFolders lists the TV library roots.
func (c *Client) RootFolders(ctx context.Context) ([]arr.RootFolder, error) {
	return c.api.RootFolders(ctx)
}

// QualityProfiles lists the configured profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]arr.QualityProfile, error) {
	return c.api.QualityProfiles(ctx)
}

// FindEpisode returns the episodes matching season and episode. Episode zero
// selects the whole season.
func FindEpisode(episodes []Episode, season, episode int) []Episode {
	var out []Episode
	for _, e := range episodes {
		if e.SeasonNumber != season {
			continue
		}
		if episode == 0 || e.EpisodeNumber == episode {
			out = append(out, e)
		}
	}
	return out
}
