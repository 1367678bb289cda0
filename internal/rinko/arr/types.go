package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Command is an asynchronous *arr job such as EpisodeSearch.
type Command struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	// State is reported by some Sonarr builds instead of Status.
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

// Phase returns the lower-cased command state, preferring State over Status.
func (c *Command) Phase() string {
	if c == nil {
		return ""
	}
	if c.State != "" {
		return strings.ToLower(c.State)
	}
	return strings.ToLower(c.Status)
}

// Quality is one quality definition, e.g. "Bluray-2160p".
type Quality struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Resolution int    `json:"resolution,omitempty"`
}

// QualityModel wraps Quality as it appears on episode and movie files.
type QualityModel struct {
	Quality Quality `json:"quality"`
}

// QualityProfileItem is one entry of a profile's ordered quality list.
type QualityProfileItem struct {
	Quality *Quality `json:"quality,omitempty"`
	Allowed bool     `json:"allowed"`
	Name    string   `json:"name,omitempty"`
}

// QualityProfile is a named set of acceptable qualities.
type QualityProfile struct {
	ID     int                  `json:"id"`
	Name   string               `json:"name"`
	Cutoff int                  `json:"cutoff"`
	Items  []QualityProfileItem `json:"items,omitempty"`
}

// DisplayName falls back to "Profile N" for unnamed profiles.
func (p QualityProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("Profile %d", p.ID)
}

// RootFolder is a library root on disk.
type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// Image is a poster, banner or fanart reference.
type Image struct {
	CoverType string `json:"coverType"`
	URL       string `json:"url,omitempty"`
	RemoteURL string `json:"remoteUrl,omitempty"`
}

// RatingValue is one rating source.
type RatingValue struct {
	Value float64 `json:"value"`
	Votes int     `json:"votes,omitempty"`
}

// Ratings covers both shapes: Sonarr reports a flat value, Radarr reports
// per-source values.
type Ratings struct {
	Value float64      `json:"value,omitempty"`
	Votes int          `json:"votes,omitempty"`
	IMDb  *RatingValue `json:"imdb,omitempty"`
	TMDb  *RatingValue `json:"tmdb,omitempty"`
}

// UnmarshalJSON also accepts the list form older Radarr builds emit.
func (r *Ratings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []RatingValue
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = Ratings{}
		for _, v := range list {
			if v.Value > 0 {
				r.Value, r.Votes = v.Value, v.Votes
				break
			}
		}
		return nil
	}
	*r = Ratings{}
	type plain Ratings
	return json.Unmarshal(data, (*plain)(r))
}

// Score returns the first positive of value, imdb and tmdb.
func (r Ratings) Score() float64 {
	switch {
	case r.Value > 0:
		return r.Value
	case r.IMDb != nil && r.IMDb.Value > 0:
		return r.IMDb.Value
	case r.TMDb != nil && r.TMDb.Value > 0:
		return r.TMDb.Value
	}
	return 0
}

// RootFolders lists the configured library roots.
func (c *Client) RootFolders(ctx context.Context) ([]RootFolder, error) {
	var out []RootFolder
	if err := c.Get(ctx, "/api/v3/rootfolder", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QualityProfiles lists the configured quality profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var out []QualityProfile
	if err := c.Get(ctx, "/api/v3/qualityprofile", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Command fetches the current state of a command.
func (c *Client) Command(ctx context.Context, id int) (*Command, error) {
	var out Command
	if err := c.Get(ctx, fmt.Sprintf("/api/v3/command/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunCommand posts a command body, e.g. {"name":"SeriesSearch","seriesIds":[1]}.
func (c *Client) RunCommand(ctx context.Context, body map[string]any) (*Command, error) {
	var out Command
	if err := c.Post(ctx, "/api/v3/command", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SystemStatus is the subset of /api/v3/system/status used for health
// checks.
type SystemStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// SystemStatus reports the server version. It doubles as a reachability and
// API key check.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.Get(ctx, "/api/v3/system/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
