// Package mock provides an in-memory provider for tests.
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Provider is a mock upstream. It records every call and can be told to fail
// per credential.
type Provider struct {
	name         string
	asyncPoll    bool
	latency      time.Duration
	staticErr    error
	content      string
	usage        cloudgpt.Usage
	keyStatus    map[string]int
	hangKeys     map[string]bool
	streamChunks []string
	responseFunc func(cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error)

	callCount atomic.Int64
	mu        sync.Mutex
	calls     []Call
}

// Call is one recorded invocation.
type Call struct {
	Method string
	Key    string
	Model  string
}

var (
	_ cloudgpt.Provider       = (*Provider)(nil)
	_ cloudgpt.ImageGenerator = (*Provider)(nil)
	_ cloudgpt.VideoGenerator = (*Provider)(nil)
	_ cloudgpt.Embedder       = (*Provider)(nil)
)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    "mock",
		content: "Hello from mock provider",
		usage: cloudgpt.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		keyStatus: make(map[string]int),
		hangKeys:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithAsyncPoll marks the provider as a submit/poll backend.
func WithAsyncPoll() Option {
	return func(p *Provider) { p.asyncPoll = true }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithContent sets the completion text.
func WithContent(s string) Option {
	return func(p *Provider) { p.content = s }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u cloudgpt.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithStatusForKey makes calls using key fail as if upstream answered status.
func WithStatusForKey(key string, status int) Option {
	return func(p *Provider) { p.keyStatus[key] = status }
}

// WithHangForKey makes calls using key block until their context ends.
func WithHangForKey(key string) Option {
	return func(p *Provider) { p.hangKeys[key] = true }
}

// WithStreamChunks sets the raw SSE chunks returned by streaming calls.
// Without it the completion text is emitted as a single delta.
func WithStreamChunks(chunks ...string) Option {
	return func(p *Provider) { p.streamChunks = chunks }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SupportsAsyncPoll() bool { return p.asyncPoll }

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Keys returns the credential used by each call, in order.
func (p *Provider) Keys() []string {
	calls := p.Calls()
	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = c.Key
	}
	return keys
}

// enter records the call and applies latency and configured failures.
func (p *Provider) enter(ctx context.Context, method string, auth cloudgpt.Auth, model string) error {
	p.callCount.Add(1)
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Key: auth.APIKey, Model: model})
	p.mu.Unlock()

	if p.hangKeys[auth.APIKey] {
		<-ctx.Done()
		return cloudgpt.TransportError(p.name, ctx.Err())
	}
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return cloudgpt.TransportError(p.name, ctx.Err())
		}
	}
	if p.staticErr != nil {
		return p.staticErr
	}
	if status, ok := p.keyStatus[auth.APIKey]; ok {
		return cloudgpt.NewProviderError(p.name, status, http.StatusText(status), 0)
	}
	return nil
}

func (p *Provider) ChatCompletion(ctx context.Context, req cloudgpt.ProviderRequest) (cloudgpt.ProviderResponse, error) {
	if err := p.enter(ctx, "chat", req.Auth, req.Model); err != nil {
		return cloudgpt.ProviderResponse{}, err
	}
	if p.responseFunc != nil {
		return p.responseFunc(req)
	}
	return cloudgpt.ProviderResponse{
		ID:           "mock-response-id",
		Content:      p.content,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req cloudgpt.ProviderRequest) (io.ReadCloser, error) {
	if err := p.enter(ctx, "stream", req.Auth, req.Model); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	chunks := p.streamChunks
	if chunks == nil {
		chunks = []string{p.content}
	}
	for _, c := range chunks {
		delta, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"index": 0, "delta": map[string]string{"content": c}}},
		})
		fmt.Fprintf(&buf, "data: %s\n\n", delta)
	}
	buf.WriteString("data: [DONE]\n\n")
	return io.NopCloser(&buf), nil
}

func (p *Provider) GenerateImage(ctx context.Context, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	return p.media(ctx, "image", req)
}

func (p *Provider) GenerateVideo(ctx context.Context, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	return p.media(ctx, "video", req)
}

func (p *Provider) media(ctx context.Context, kind string, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	if err := p.enter(ctx, kind, req.Auth, req.Model); err != nil {
		return cloudgpt.MediaResponse{}, err
	}
	url := fmt.Sprintf("https://mock.invalid/%s/%s/%s", kind, req.Model, strings.ReplaceAll(req.Prompt, " ", "_"))
	return cloudgpt.MediaResponse{
		Created: time.Now().Unix(),
		Data:    []cloudgpt.MediaData{{URL: url}},
	}, nil
}

func (p *Provider) CreateEmbedding(ctx context.Context, req cloudgpt.EmbeddingProviderRequest) (cloudgpt.EmbeddingResponse, error) {
	if err := p.enter(ctx, "embedding", req.Auth, req.Model); err != nil {
		return cloudgpt.EmbeddingResponse{}, err
	}
	return cloudgpt.EmbeddingResponse{
		Object: "list",
		Model:  req.Model,
		Data: []cloudgpt.EmbeddingData{
			{Object: "embedding", Index: 0, Embedding: json.RawMessage(`[0.1,0.2,0.3]`)},
		},
		Usage: cloudgpt.Usage{PromptTokens: 3, TotalTokens: 3},
	}, nil
}
