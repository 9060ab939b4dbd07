package cloudgpt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ChatRequest represents an OpenAI-shaped chat completion request.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	ReasoningEffort  string          `json:"reasoning_effort,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
}

// Message represents a chat message. Content is either a JSON string or an
// array of typed parts, so it is kept raw.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// TextMessage builds a message with plain string content.
func TextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

// ContentKind reports how the content is encoded: "string", "array", "null"
// (absent or JSON null) or "invalid".
func (m Message) ContentKind() string {
	trimmed := bytes.TrimSpace(m.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "null"
	}
	switch trimmed[0] {
	case '"':
		return "string"
	case '[':
		return "array"
	default:
		return "invalid"
	}
}

// Text returns the textual content. Array content contributes its text parts.
func (m Message) Text() string {
	switch m.ContentKind() {
	case "string":
		var s string
		_ = json.Unmarshal(m.Content, &s)
		return s
	case "array":
		var parts []ContentPart
		if err := json.Unmarshal(m.Content, &parts); err != nil {
			return ""
		}
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created int64       `json:"created"`
	Model   string      `json:"model"`
	Choices []Choice    `json:"choices"`
	Usage   Usage       `json:"usage"`
	Routing RoutingInfo `json:"-"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant turn returned to clients.
type ResponseMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// RoutingInfo describes which provider and credential served the request.
type RoutingInfo struct {
	Provider      string
	CredentialID  string
	UpstreamModel string
	Attempts      []Attempt
	FastPath      bool
	Fallback      bool
}

// MediaRequest is the body of image and video generation requests.
type MediaRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	MaskURL        string `json:"mask_url,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Dimensions returns explicit width/height, falling back to a "WxH" size.
func (r MediaRequest) Dimensions() (int, int) {
	if r.Width > 0 && r.Height > 0 {
		return r.Width, r.Height
	}
	w, h, ok := strings.Cut(r.Size, "x")
	if !ok {
		return 0, 0
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return wi, hi
}

// MediaResponse is the canonical image/video generation response.
type MediaResponse struct {
	Created int64       `json:"created"`
	Data    []MediaData `json:"data"`
	Routing RoutingInfo `json:"-"`
}

// MediaData is one generated asset.
type MediaData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// EmbeddingRequest represents an embeddings request. Input is a string or an
// array of strings.
type EmbeddingRequest struct {
	Model          string          `json:"model"`
	Input          json.RawMessage `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	Dimensions     *int            `json:"dimensions,omitempty"`
}

// EmbeddingResponse represents an embeddings response.
type EmbeddingResponse struct {
	Object  string          `json:"object"`
	Data    []EmbeddingData `json:"data"`
	Model   string          `json:"model"`
	Usage   Usage           `json:"usage"`
	Routing RoutingInfo     `json:"-"`
}

// EmbeddingData holds one vector, kept raw so base64 output passes through.
type EmbeddingData struct {
	Object    string          `json:"object"`
	Index     int             `json:"index"`
	Embedding json.RawMessage `json:"embedding"`
}

// Caller carries per-request identity and correlation data.
type Caller struct {
	Identity  Identity
	RequestID string
	// EndUserID is the x-user-id header used for memory scoping.
	EndUserID string
}

func unixNow() int64 { return time.Now().Unix() }

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
