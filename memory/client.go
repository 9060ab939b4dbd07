// Package memory is an HTTP client for the external per-user memory service.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

const defaultTimeout = 5 * time.Second

// Client talks to the memory service over JSON:
//
//	POST {base}/retrieve {user_id, query}          -> {context}
//	POST {base}/remember {user_id, prompt, reply}  -> 2xx
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ cloudgpt.Memory = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type retrieveRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

type retrieveResponse struct {
	Context string `json:"context"`
}

type rememberRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Reply  string `json:"reply"`
}

// Retrieve returns remembered context relevant to query.
func (c *Client) Retrieve(ctx context.Context, userID, query string) (string, error) {
	var out retrieveResponse
	if err := c.post(ctx, "/retrieve", retrieveRequest{UserID: userID, Query: query}, &out); err != nil {
		return "", err
	}
	return out.Context, nil
}

// Remember stores a finished exchange.
func (c *Client) Remember(ctx context.Context, userID, prompt, reply string) error {
	return c.post(ctx, "/remember", rememberRequest{UserID: userID, Prompt: prompt, Reply: reply}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cloudgpt/memory: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cloudgpt/memory: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudgpt/memory: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cloudgpt/memory: %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloudgpt/memory: %s: decode: %w", path, err)
	}
	return nil
}
