// Package qbittorrent finds and removes torrents whose trackers no longer
// recognise them, using the qBittorrent Web API v2.
package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/common/redact"
)

// ErrNotConfigured is returned when URL or credentials are missing.
var ErrNotConfigured = errors.New("qbittorrent: URL, username or password missing")

// ErrAuth is returned when login does not yield a session cookie.
var ErrAuth = errors.New("qbittorrent: authentication failed")

// Category filters torrents by their qBittorrent category. The empty
// category matches everything.
const (
	CategoryAll    = ""
	CategoryTV     = "tv"
	CategoryMovies = "movies"
)

// Config configures the client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Torrent is a torrent flagged as unregistered.
type Torrent struct {
	Hash     string `json:"hash"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Category string `json:"category"`
	AddedOn  int64  `json:"added_on"`
}

type tracker struct {
	URL string `json:"url"`
	Msg string `json:"msg"`
}

// Client is a qBittorrent client. Each operation logs in afresh, so the
// client holds no session state and is safe for concurrent use.
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
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Configured reports whether URL and credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

type session struct {
	c      *Client
	cookie string
}

func (c *Client) login(ctx context.Context) (*session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.cfg.BaseURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: login: %s", redact.Error(err, c.cfg.Password))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
	}
	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return nil, ErrAuth
	}
	cookie, _, _ := strings.Cut(cookies[0], ";")
	return &session{c: c, cookie: cookie}, nil
}

func (s *session) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.c.cfg.BaseURL+"/api/v2"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", s.cookie)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := s.c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qbittorrent: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qbittorrent: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qbittorrent: %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("qbittorrent: decode %s: %w", path, err)
	}
	return nil
}

// FindUnregistered returns torrents in category (or all, when empty) that
// have at least one tracker reporting "unregistered". Per-torrent tracker
// failures are logged and skipped.
func (c *Client) FindUnregistered(ctx context.Context, category string) ([]Torrent, error) {
	s, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	var torrents []Torrent
	if err := s.do(ctx, http.MethodGet, "/torrents/info", nil, &torrents); err != nil {
		return nil, err
	}

	var out []Torrent
	for _, t := range torrents {
		if category != CategoryAll && t.Category != category {
			continue
		}
		var trackers []tracker
		if err := s.do(ctx, http.MethodGet, "/torrents/trackers?hash="+url.QueryEscape(t.Hash), nil, &trackers); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("qbittorrent: tracker lookup failed", "hash", t.Hash, "err", err)
			continue
		}
		for _, tr := range trackers {
			if strings.Contains(strings.ToLower(tr.Msg), "unregistered") {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Delete removes the torrents and, with deleteFiles, their data. It returns
// the number of hashes submitted.
func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	s, err := c.login(ctx)
	if err != nil {
		return 0, err
	}
	form := url.Values{
		"hashes":      {strings.Join(hashes, "|")},
		"deleteFiles": {fmt.Sprint(deleteFiles)},
	}
	if err := s.do(ctx, http.MethodPost, "/torrents/delete", form, nil); err != nil {
		return 0, err
	}
	return len(hashes), nil
}
