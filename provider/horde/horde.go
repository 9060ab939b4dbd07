// Package horde adapts the AI Horde community compute network. Jobs are
// submitted asynchronously, polled until done or faulted, then fetched.
package horde

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/custom"
)

// AnonymousKey is the shared key for unregistered, lower-priority use.
const AnonymousKey = "0000000000"

const (
	defaultBaseURL       = "https://aihorde.net/api/v2"
	defaultPollInterval  = 2 * time.Second
	defaultTextDeadline  = 120 * time.Second
	defaultImageDeadline = 300 * time.Second
	defaultClientAgent   = "cloudgpt:1:https://github.com/CloudCompile/cloudgptapi"
	defaultMaxLength     = 512
)

// Provider is the AI Horde adapter.
type Provider struct {
	name          string
	baseURL       string
	httpClient    *http.Client
	pollInterval  time.Duration
	textDeadline  time.Duration
	imageDeadline time.Duration
	maxPolls      int
	clientAgent   string
}

var (
	_ cloudgpt.Provider       = (*Provider)(nil)
	_ cloudgpt.ImageGenerator = (*Provider)(nil)
)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithDeadlines sets the wall-clock limits for text and image jobs.
func WithDeadlines(text, image time.Duration) Option {
	return func(p *Provider) {
		p.textDeadline = text
		p.imageDeadline = image
	}
}

// WithMaxPolls bounds the number of status checks per job. Zero derives the
// bound from the deadline and interval.
func WithMaxPolls(n int) Option {
	return func(p *Provider) { p.maxPolls = n }
}

// New creates an AI Horde provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:          cloudgpt.ProviderHorde,
		baseURL:       defaultBaseURL,
		httpClient:    http.DefaultClient,
		pollInterval:  defaultPollInterval,
		textDeadline:  defaultTextDeadline,
		imageDeadline: defaultImageDeadline,
		clientAgent:   defaultClientAgent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsAsyncPoll() bool { return true }

type textParams struct {
	MaxLength        int      `json:"max_length"`
	MaxContextLength int      `json:"max_context_length"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	StopSequence     []string `json:"stop_sequence,omitempty"`
}

type textSubmit struct {
	Prompt string     `json:"prompt"`
	Params textParams `json:"params"`
	Models []string   `json:"models,omitempty"`
}

type submitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type textStatus struct {
	Done        bool `json:"done"`
	Faulted     bool `json:"faulted"`
	IsPossible  bool `json:"is_possible"`
	Generations []struct {
		Text  string `json:"text"`
		Model string `json:"model"`
	} `json:"generations"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.textDeadline)
	defer cancel()

	maxLength := defaultMaxLength
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxLength = *req.MaxTokens
	}
	submit := textSubmit{
		Prompt: custom.FlattenMessages(req.Messages),
		Params: textParams{
			MaxLength:        maxLength,
			MaxContextLength: 4096,
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			StopSequence:     req.Stop,
		},
		Models: models(req.Model),
	}

	id, err := p.submit(ctx, req.Auth, "/generate/text/async", submit)
	if err != nil {
		return cloudgpt.ProviderResponse{}, err
	}

	var status textStatus
	err = p.poll(ctx, p.textDeadline, func(ctx context.Context) (bool, error) {
		status = textStatus{}
		if err := p.getJSON(ctx, req.Auth, "/generate/text/status/"+id, &status); err != nil {
			return false, err
		}
		return p.terminal(status.Done, status.Faulted, status.IsPossible)
	})
	if err != nil {
		p.cancelJob(req.Auth, "/generate/text/status/"+id)
		return cloudgpt.ProviderResponse{}, err
	}
	if len(status.Generations) == 0 {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("%w: %s: job %s finished without output", cloudgpt.ErrProviderUnavailable, p.name, id)
	}

	gen := status.Generations[0]
	return cloudgpt.ProviderResponse{
		ID:           "chatcmpl-" + uuid.New().String(),
		Content:      strings.TrimSpace(gen.Text),
		FinishReason: "stop",
		Model:        gen.Model,
		Created:      time.Now().Unix(),
	}, nil
}

// ChatCompletionStream waits for the whole job and replays it as SSE.
func (p *Provider) ChatCompletionStream(ctx context.Context, req cloudgpt.ProviderRequest) (io.ReadCloser, error) {
	resp, err := p.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(custom.EmulateStream(resp))), nil
}

// terminal maps a status document onto (done, error).
func (p *Provider) terminal(done, faulted, possible bool) (bool, error) {
	if faulted {
		return false, fmt.Errorf("%w: %s: generation faulted", cloudgpt.ErrProviderUnavailable, p.name)
	}
	if !possible {
		return false, fmt.Errorf("%w: %s: no worker can serve this request", cloudgpt.ErrProviderUnavailable, p.name)
	}
	return done, nil
}

func models(model string) []string {
	if model == "" || model == cloudgpt.ProviderHorde {
		return nil
	}
	return []string{model}
}

func (p *Provider) submit(ctx context.Context, auth cloudgpt.Auth, path string, body any) (string, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("cloudgpt: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("cloudgpt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp submitResponse
	if err := p.doJSON(httpReq, auth, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: %s: submit returned no job id: %s", cloudgpt.ErrProviderUnavailable, p.name, resp.Message)
	}
	return resp.ID, nil
}

func (p *Provider) getJSON(ctx context.Context, auth cloudgpt.Auth, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("cloudgpt: create request: %w", err)
	}
	return p.doJSON(httpReq, auth, out)
}

func (p *Provider) doJSON(httpReq *http.Request, auth cloudgpt.Auth, out any) error {
	key := auth.APIKey
	if key == "" {
		key = AnonymousKey
	}
	httpReq.Header.Set("apikey", key)
	httpReq.Header.Set("Client-Agent", p.clientAgent)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return cloudgpt.TransportError(p.name, err)
	}
	if err := cloudgpt.CheckResponse(p.name, resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", cloudgpt.ErrProviderUnavailable, p.name, err)
	}
	return nil
}

// poll calls check every interval until it reports done, fails, the context
// ends, or the attempt budget runs out.
func (p *Provider) poll(ctx context.Context, deadline time.Duration, check func(context.Context) (bool, error)) error {
	maxPolls := p.maxPolls
	if maxPolls <= 0 {
		maxPolls = int(deadline/p.pollInterval) + 1
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return p.contextError(ctx.Err())
		case <-ticker.C:
		}

		done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.contextError(ctx.Err())
			}
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("%w: %s: job not finished after %d polls", cloudgpt.ErrTimeout, p.name, maxPolls)
}

func (p *Provider) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: job deadline exceeded", cloudgpt.ErrTimeout, p.name)
	}
	return err
}

// cancelJob releases an abandoned job so it stops consuming kudos.
func (p *Provider) cancelJob(auth cloudgpt.Auth, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+path, nil)
	if err != nil {
		return
	}
	var ignored json.RawMessage
	_ = p.doJSON(httpReq, auth, &ignored)
}
