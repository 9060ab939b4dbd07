package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Provider is an OpenAI-compatible API adapter. The primary and secondary
// proxies and the GitHub Models aggregator are all instances of it.
type Provider struct {
	name         string
	baseURL      string
	imageBaseURL string
	httpClient   *http.Client
	maxTokensCap int
	embeddings   bool
	requireKey   bool
	queryImages  bool
	headers      map[string]string
}

var (
	_ cloudgpt.Provider       = (*Provider)(nil)
	_ cloudgpt.ImageGenerator = (*Provider)(nil)
	_ cloudgpt.VideoGenerator = (*Provider)(nil)
	_ cloudgpt.Embedder       = (*Provider)(nil)
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

// WithImageBaseURL sets the host used for query-string image generation.
func WithImageBaseURL(u string) Option {
	return func(p *Provider) { p.imageBaseURL = strings.TrimRight(u, "/") }
}

// WithMaxTokensCap clamps max_tokens on every chat request.
func WithMaxTokensCap(n int) Option {
	return func(p *Provider) { p.maxTokensCap = n }
}

// WithEmbeddings enables the /embeddings endpoint.
func WithEmbeddings() Option {
	return func(p *Provider) { p.embeddings = true }
}

// WithRequiredKey makes a missing credential a configuration error instead of
// an anonymous call.
func WithRequiredKey() Option {
	return func(p *Provider) { p.requireKey = true }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) { p.headers[key] = value }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewPrimary creates the primary proxy (Pollinations). Images and video are
// generated through query-string URLs on the image host.
func NewPrimary(opts ...Option) *Provider {
	base := []Option{WithImageBaseURL("https://image.pollinations.ai")}
	p := New(cloudgpt.ProviderPollinations, "https://text.pollinations.ai/openai", append(base, opts...)...)
	p.queryImages = true
	return p
}

// NewSecondary creates the secondary proxy (OpenRouter), used as the
// cross-provider fallback target. max_tokens is capped at 4096 unless
// overridden.
func NewSecondary(opts ...Option) *Provider {
	base := []Option{WithMaxTokensCap(4096)}
	return New(cloudgpt.ProviderOpenRouter, "https://openrouter.ai/api/v1", append(base, opts...)...)
}

// NewAggregator creates the GitHub Models provider with chat and embeddings.
// It refuses to run without a token.
func NewAggregator(opts ...Option) *Provider {
	base := []Option{WithEmbeddings(), WithRequiredKey()}
	return New(cloudgpt.ProviderGitHub, "https://models.github.ai/inference", append(base, opts...)...)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsAsyncPoll() bool { return false }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model            string             `json:"model"`
	Messages         []cloudgpt.Message `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	ReasoningEffort  string             `json:"reasoning_effort,omitempty"`
	Seed             *int64             `json:"seed,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	Stop             []string           `json:"stop,omitempty"`
	Tools            json.RawMessage    `json:"tools,omitempty"`
	ToolChoice       json.RawMessage    `json:"tool_choice,omitempty"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string          `json:"role"`
			Content   *string         `json:"content"`
			ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage cloudgpt.Usage `json:"usage"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error) {
	httpResp, err := p.post(ctx, req.Auth, "/chat/completions", p.buildRequest(req, false))
	if err != nil {
		return cloudgpt.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	return p.parseResponse(httpResp.Body)
}

// ChatCompletionStream returns the upstream SSE body as is.
func (p *Provider) ChatCompletionStream(ctx context.Context, req cloudgpt.ProviderRequest) (io.ReadCloser, error) {
	httpResp, err := p.post(ctx, req.Auth, "/chat/completions", p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return httpResp.Body, nil
}

func (p *Provider) buildRequest(req cloudgpt.ProviderRequest, stream bool) apiRequest {
	maxTokens := req.MaxTokens
	if p.maxTokensCap > 0 {
		if maxTokens == nil || *maxTokens > p.maxTokensCap {
			maxTokens = cloudgpt.IntPtr(p.maxTokensCap)
		}
	}
	return apiRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        maxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		ReasoningEffort:  req.ReasoningEffort,
		Seed:             req.Seed,
		Stream:           stream,
		Stop:             req.Stop,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
	}
}

func (p *Provider) parseResponse(body io.Reader) (cloudgpt.ProviderResponse, error) {
	var resp apiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("%w: %s: decode response: %v", cloudgpt.ErrProviderUnavailable, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("%w: %s: empty choices in response", cloudgpt.ErrProviderUnavailable, p.name)
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	return cloudgpt.ProviderResponse{
		ID:           resp.ID,
		Content:      content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
		Created:      resp.Created,
		Usage:        resp.Usage,
	}, nil
}

// post sends a JSON body and returns the response once it is known to be 2xx.
func (p *Provider) post(ctx context.Context, auth cloudgpt.Auth, path string, body any) (*http.Response, error) {
	if p.requireKey && auth.APIKey == "" {
		return nil, fmt.Errorf("%w: %s token is not set", cloudgpt.ErrProviderMisconfigured, p.name)
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cloudgpt: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("cloudgpt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq, auth)

	return p.do(httpReq)
}

func (p *Provider) authorize(httpReq *http.Request, auth cloudgpt.Auth) {
	if auth.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
}

func (p *Provider) do(httpReq *http.Request) (*http.Response, error) {
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, cloudgpt.TransportError(p.name, err)
	}
	if err := cloudgpt.CheckResponse(p.name, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
