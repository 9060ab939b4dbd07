// Package custom adapts a single-endpoint chat service that takes one flat
// prompt string and answers {"response": "..."}.
package custom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Provider is the single-endpoint custom adapter.
type Provider struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

var _ cloudgpt.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithName overrides the provider name (default "custom").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates a custom provider posting to endpoint.
func New(endpoint string, opts ...Option) *Provider {
	p := &Provider{
		name:       cloudgpt.ProviderCustom,
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsAsyncPoll() bool { return false }

type apiRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("cloudgpt: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("cloudgpt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Auth.APIKey != "" {
		httpReq.Header.Set("x-api-key", req.Auth.APIKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return cloudgpt.ProviderResponse{}, cloudgpt.TransportError(p.name, err)
	}
	if err := cloudgpt.CheckResponse(p.name, httpResp); err != nil {
		return cloudgpt.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return cloudgpt.ProviderResponse{}, cloudgpt.TransportError(p.name, err)
	}
	return p.parseResponse(raw)
}

// ChatCompletionStream emulates streaming: the full answer becomes a single
// content frame followed by a stop frame and [DONE].
func (p *Provider) ChatCompletionStream(ctx context.Context, req cloudgpt.ProviderRequest) (io.ReadCloser, error) {
	resp, err := p.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(EmulateStream(resp))), nil
}

func buildRequest(req cloudgpt.ProviderRequest) apiRequest {
	return apiRequest{
		Prompt:      FlattenMessages(req.Messages),
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (p *Provider) parseResponse(raw []byte) (cloudgpt.ProviderResponse, error) {
	if !gjson.ValidBytes(raw) {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("%w: %s: response is not JSON", cloudgpt.ErrProviderUnavailable, p.name)
	}
	answer := gjson.GetBytes(raw, "response")
	if answer.Type != gjson.String {
		return cloudgpt.ProviderResponse{}, fmt.Errorf("%w: %s: response field missing", cloudgpt.ErrProviderUnavailable, p.name)
	}
	return cloudgpt.ProviderResponse{
		ID:           "chatcmpl-" + uuid.New().String(),
		Content:      answer.String(),
		FinishReason: "stop",
		Created:      time.Now().Unix(),
	}, nil
}

// FlattenMessages renders a conversation as "role: content" blocks ending
// with an open assistant turn.
func FlattenMessages(messages []cloudgpt.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("assistant:")
	return sb.String()
}

type streamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model,omitempty"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int               `json:"index"`
	Delta        map[string]string `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

// EmulateStream renders a complete response as an OpenAI SSE body.
func EmulateStream(resp cloudgpt.ProviderResponse) []byte {
	var buf bytes.Buffer
	write := func(c streamChunk) {
		b, _ := json.Marshal(c)
		buf.WriteString("data: ")
		buf.Write(b)
		buf.WriteString("\n\n")
	}

	stop := "stop"
	if resp.FinishReason != "" {
		stop = resp.FinishReason
	}
	write(streamChunk{
		ID: resp.ID, Object: "chat.completion.chunk", Created: resp.Created, Model: resp.Model,
		Choices: []chunkChoice{{Delta: map[string]string{"role": "assistant", "content": resp.Content}}},
	})
	write(streamChunk{
		ID: resp.ID, Object: "chat.completion.chunk", Created: resp.Created, Model: resp.Model,
		Choices: []chunkChoice{{Delta: map[string]string{}, FinishReason: &stop}},
	})
	buf.WriteString("data: [DONE]\n\n")
	return buf.Bytes()
}
