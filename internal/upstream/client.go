package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/groexpert13/sheet/internal/version"
)

const defaultBaseURL = "https://api.openai.com/v1"

// RejectionError is returned when the provider refuses the whole request:
// a non-2xx status or a response without a readable body.
type RejectionError struct {
	Status int
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Detail)
}

// Config holds configuration for the Responses API client.
type Config struct {
	APIKey       string
	BaseURL      string // optional, defaults to https://api.openai.com/v1
	Organization string // optional
	// HTTPClient must not set a Timeout shorter than the longest expected
	// stream; per-request deadlines come from the context.
	HTTPClient *http.Client
}

// Client opens streaming requests against the Responses API.
type Client struct {
	apiKey     string
	baseURL    string
	org        string
	httpClient *http.Client
}

// New creates a Client. The API key is checked by callers so that a relay
// without credentials can still start and report a configuration error.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		org:        cfg.Organization,
		httpClient: hc,
	}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// BaseURL returns the normalized endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// Stream posts req to /responses and returns the open event-stream body.
// The caller owns the returned body and must close it.
func (c *Client) Stream(ctx context.Context, req ResponseRequest) (io.ReadCloser, error) {
	if c.apiKey == "" {
		return nil, errors.New("upstream: api key required")
	}
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.org != "" {
		httpReq.Header.Set("OpenAI-Organization", c.org)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: send request: %w", err)
	}
	// 204 carries no event stream at all.
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.StatusCode == http.StatusNoContent {
		return nil, &RejectionError{Status: resp.StatusCode, Detail: readDetail(resp)}
	}
	return resp.Body, nil
}

// readDetail drains whatever diagnostic text the provider sent. A failed
// read degrades to a generic message.
func readDetail(resp *http.Response) string {
	const generic = "Upstream error"
	if resp.Body == nil {
		return generic
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return generic
	}
	return string(b)
}
