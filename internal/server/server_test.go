package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/CloudCompile/cloudgptapi-sub000/auth"
	"github.com/CloudCompile/cloudgptapi-sub000/internal/server"
	"github.com/CloudCompile/cloudgptapi-sub000/provider/mock"
	"github.com/CloudCompile/cloudgptapi-sub000/quota"
)

type fixture struct {
	handler http.Handler
	store   *quota.MemoryQuotaStore
	primary *mock.Provider
}

func newFixture(t *testing.T, primaryOpts ...mock.Option) *fixture {
	t.Helper()

	primary := mock.New(append([]mock.Option{mock.WithName(cloudgpt.ProviderPollinations)}, primaryOpts...)...)
	secondary := mock.New(mock.WithName(cloudgpt.ProviderOpenRouter))
	github := mock.New(mock.WithName(cloudgpt.ProviderGitHub))

	router, err := cloudgpt.NewRouter(nil, []cloudgpt.Provider{primary, secondary, github})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close(context.Background()) })

	// Midday UTC keeps peak-hour dampening out of the picture.
	noon := func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	store := quota.NewMemoryQuotaStore(quota.WithClock(noon))
	limiter := cloudgpt.NewLimiter(store, cloudgpt.WithLimiterClock(noon))

	srv := server.New(router, limiter, auth.NewResolver(), server.WithClock(noon))
	return &fixture{handler: srv.Handler(), store: store, primary: primary}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           string `json:"code"`
		Param          string `json:"param"`
		RequestID      string `json:"request_id"`
		Provider       string `json:"provider"`
		RetryAfter     int64  `json:"retry_after"`
		Suggestion     string `json:"suggestion"`
		OriginalStatus int    `json:"original_status"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// Test 1: an alias resolves and the response carries the canonical id.
func TestChat_Success(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp cloudgpt.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "openai", resp.Model)
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello from mock provider", resp.Choices[0].Message.Content)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1000", rec.Header().Get("X-DailyLimit-Limit"))
	assert.Equal(t, cloudgpt.ProviderPollinations, rec.Header().Get("X-CloudGPT-Provider"))
}

// Test 2: validation errors name the field and are not counted.
func TestChat_InvalidRole(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"model":"openai","messages":[{"role":"wizard","content":"hi"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, cloudgpt.ErrTypeInvalidRequest, env.Error.Type)
	assert.Equal(t, "messages[0].role", env.Error.Param)
	assert.NotEmpty(t, env.Error.Suggestion)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), env.Error.RequestID)
	assert.Zero(t, f.primary.CallCount())
}

func TestChat_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/chat/completions", `{"model":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeError(t, rec).Error.Code)
}

// Test 3: an exhausted minute window yields 429 with Retry-After.
func TestChat_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := f.store.Hit(ctx, "ip:192.0.2.1:chat:minute", 100, cloudgpt.MinuteWindow)
		require.NoError(t, err)
	}

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, cloudgpt.ErrTypeRateLimit, env.Error.Type)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, int64(60), env.Error.RetryAfter)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Zero(t, f.primary.CallCount())
}

// Test 4: premium models are refused before any upstream call.
func TestChat_PremiumRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"model":"openai-large","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "premium_model_required", env.Error.Code)
	assert.NotEmpty(t, env.Error.Suggestion)
	assert.Zero(t, f.primary.CallCount())
}

// Test 5: unknown models get suggestions.
func TestChat_ModelNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"model":"deepsek","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "model_not_found", env.Error.Code)
	assert.NotEmpty(t, env.Error.Suggestion)
}

// Test 6: upstream failure surfaces the original status.
func TestChat_UpstreamFailure(t *testing.T) {
	f := newFixture(t, mock.WithStatusForKey("", http.StatusInternalServerError))

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, cloudgpt.ErrTypeProvider, env.Error.Type)
	assert.Equal(t, http.StatusInternalServerError, env.Error.OriginalStatus)
	assert.Equal(t, cloudgpt.ProviderPollinations, env.Error.Provider)
}

func TestChat_418BecomesServiceUnavailable(t *testing.T) {
	f := newFixture(t, mock.WithStatusForKey("", http.StatusTeapot))

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusTeapot, decodeError(t, rec).Error.OriginalStatus)
}

// Test 7: streaming passes upstream SSE through unchanged.
func TestChat_Stream(t *testing.T) {
	f := newFixture(t, mock.WithStreamChunks("Hel", "lo"))

	rec := f.do(http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"content":"Hel"`)
	assert.Contains(t, body, `"content":"lo"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

// Test 8: CORS preflight on any path.
func TestPreflight(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodOptions, "/v1/chat/completions", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-user-id")
}

func TestModels(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/models?modality=video", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID       string `json:"id"`
			Modality string `json:"modality"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.NotEmpty(t, list.Data)
	for _, m := range list.Data {
		assert.Equal(t, "video", m.Modality)
	}

	rec = f.do(http.MethodGet, "/v1/models/dall-e-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"flux"`)

	rec = f.do(http.MethodGet, "/v1/models/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImages(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/images/generations", `{"prompt":"a red fox"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp cloudgpt.MediaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Contains(t, resp.Data[0].URL, "a_red_fox")

	rec = f.do(http.MethodPost, "/v1/images/generations", `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImages_InvalidInpaintingSpendsNoQuota(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/images/generations", `{"prompt":"fix the sky","model":"horde-inpaint","image_url":"https://x.invalid/a.png"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "mask_url", decodeError(t, rec).Error.Param)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))

	rec = f.do(http.MethodPost, "/v1/images/generations", `{"prompt":"a red fox"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "999", rec.Header().Get("X-DailyLimit-Remaining"))
}

func TestVideo_PlanRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/video/generations", `{"prompt":"waves"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "video_plan_required", decodeError(t, rec).Error.Code)
	assert.Zero(t, f.primary.CallCount())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v2/anything", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec).Error.RequestID)
}
