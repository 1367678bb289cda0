package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Rinko/common/redact"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

const (
	defaultNLPBase  = "https://api.openai.com/v1"
	defaultNLPModel = "gpt-4o-mini"
	defaultTimeout  = 30 * time.Second
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for Ollama or Azure OpenAI.
	// Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration

	// Catalogue lists the intents offered to the model. Defaults to
	// DefaultCatalogue.
	Catalogue Catalogue
}

// Client implements Provider over the chat completions API in JSON mode.
// It is safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	system string

	mu    sync.RWMutex
	model string
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNLPBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultNLPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.Catalogue) == 0 {
		cfg.Catalogue = DefaultCatalogue()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		system: BuildSystemPrompt(cfg.Catalogue),
		model:  cfg.Model,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Model returns the model currently in use.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the model for subsequent calls. An empty name restores
// the configured default.
func (c *Client) SetModel(model string) {
	if model == "" {
		model = c.cfg.Model
	}
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Classify sends text to the model and returns the validated classification.
func (c *Client) Classify(ctx context.Context, text string) (*Classification, error) {
	content, err := c.complete(ctx, c.system, text)
	if err != nil {
		return nil, err
	}
	var out Classification
	if err := decodeValidated(classificationSchema, content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAmbiguous asks the model to pick one candidate for reference. A nil
// candidate means the model answered "none".
func (c *Client) ResolveAmbiguous(ctx context.Context, reference string, pool []resolver.Candidate) (*resolver.Candidate, error) {
	if len(pool) == 0 {
		return nil, nil
	}
	content, err := c.complete(ctx, "", BuildResolvePrompt(reference, pool))
	if err != nil {
		return nil, err
	}
	var reply struct {
		Best json.RawMessage `json:"best"`
	}
	if err := decodeValidated(resolveSchema, content, &reply); err != nil {
		return nil, err
	}
	var none string
	if json.Unmarshal(reply.Best, &none) == nil {
		return nil, nil
	}
	var pick resolver.Candidate
	if err := json.Unmarshal(reply.Best, &pick); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	pick.Title = strings.TrimSpace(pick.Title)
	return &pick, nil
}

// complete runs one chat completion and returns the first choice's content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	msgs := make([]oaiMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, oaiMessage{Role: "user", Content: user})

	body := oaiRequest{
		Model:          c.Model(),
		Messages:       msgs,
		MaxTokens:      512,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("nlp: http request: %s", redact.Error(err, c.cfg.APIKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimit
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("nlp: read response body: %w", err)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("nlp: decode API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if oaiResp.Error != nil {
		return "", fmt.Errorf("nlp: API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}
	return oaiResp.Choices[0].Message.Content, nil
}
