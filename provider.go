package cloudgpt

import (
	"context"
	"encoding/json"
	"io"
)

// Provider is the interface that upstream adapters must implement. Each
// adapter builds its own request body and parses its own response into the
// canonical types.
type Provider interface {
	// Name returns the provider family (e.g. "pollinations", "horde").
	Name() string

	// SupportsAsyncPoll reports whether the provider runs jobs through a
	// submit/poll/fetch cycle rather than a single request.
	SupportsAsyncPoll() bool

	// ChatCompletion performs a synchronous chat completion.
	ChatCompletion(ctx context.Context, req ProviderRequest) (ProviderResponse, error)

	// ChatCompletionStream returns the raw server-sent-event body of a
	// streaming chat completion. The caller must close it.
	ChatCompletionStream(ctx context.Context, req ProviderRequest) (io.ReadCloser, error)
}

// ImageGenerator is implemented by providers that produce images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req MediaProviderRequest) (MediaResponse, error)
}

// VideoGenerator is implemented by providers that produce video.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req MediaProviderRequest) (MediaResponse, error)
}

// Embedder is implemented by providers with an embeddings endpoint.
type Embedder interface {
	CreateEmbedding(ctx context.Context, req EmbeddingProviderRequest) (EmbeddingResponse, error)
}

// Auth holds the credential for one upstream call.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth     Auth
	Model    string
	Messages []Message

	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	ReasoningEffort  string
	Seed             *int64
	Stop             []string
	Tools            json.RawMessage
	ToolChoice       json.RawMessage
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	ToolCalls    json.RawMessage
	FinishReason string
	Usage        Usage
	Model        string
	Created      int64
}

// MediaProviderRequest is an image or video job for one credential.
type MediaProviderRequest struct {
	Auth  Auth
	Model string
	MediaRequest
}

// EmbeddingProviderRequest is an embeddings call for one credential.
type EmbeddingProviderRequest struct {
	Auth           Auth
	Model          string
	Input          json.RawMessage
	EncodingFormat string
	Dimensions     *int
}

func providerRequest(req ChatRequest, messages []Message) ProviderRequest {
	return ProviderRequest{
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		ReasoningEffort:  req.ReasoningEffort,
		Seed:             req.Seed,
		Stop:             req.Stop,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
	}
}
