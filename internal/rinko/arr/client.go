// Package arr holds the HTTP plumbing and wire types shared by the Sonarr and
// Radarr clients. Both speak the same v3 API dialect: JSON bodies, an
// X-Api-Key header, and asynchronous work expressed as commands.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/common/redact"
	"github.com/bdobrica/Rinko/common/retry"
)

const defaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// Service is used as the error prefix, e.g. "sonarr".
	Service string
	BaseURL string
	APIKey  string
	// Timeout bounds each HTTP request. Defaults to 30 s.
	Timeout time.Duration
	// Retry governs idempotent reads. Writes are never retried.
	Retry retry.Config
}

// Client is a minimal *arr v3 API client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a Client. An empty BaseURL yields a client whose every
// call fails with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = isTransient
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// ErrNotConfigured is returned when the service URL or API key is missing.
var ErrNotConfigured = errors.New("arr: service not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s: HTTP %d: %.200s", e.Service, e.Method, e.Path, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNotConfigured)
}

// Configured reports whether the client has both a URL and an API key.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

// Get issues a GET and decodes the JSON response into out. Transient
// failures are retried.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func() error {
		return c.do(ctx, http.MethodGet, path, query, nil, out)
	})
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	return c.do(ctx, http.MethodDelete, path, query, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return fmt.Errorf("%s: %w", c.cfg.Service, ErrNotConfigured)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%s: marshal %s body: %w", c.cfg.Service, path, err))
		}
		reader = bytes.NewReader(data)
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: create request: %w", c.cfg.Service, err))
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry.Permanent(fmt.Errorf("%s: %s %s: %w", c.cfg.Service, method, path, ctxErr))
		}
		return fmt.Errorf("%s: %s %s: %s", c.cfg.Service, method, path, redact.Error(err, c.cfg.APIKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.cfg.Service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Service: c.cfg.Service,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Body:    redact.String(string(respBody), c.cfg.APIKey),
		}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("%s: decode %s: %w", c.cfg.Service, path, err))
	}
	return nil
}
