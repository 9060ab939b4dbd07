package cloudgpt_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderError_Classification(t *testing.T) {
	tests := []struct {
		status    int
		want      error
		retryable bool
	}{
		{http.StatusTooManyRequests, cloudgpt.ErrRateLimited, true},
		{http.StatusUnauthorized, cloudgpt.ErrAuthFailed, false},
		{http.StatusForbidden, cloudgpt.ErrAuthFailed, false},
		{http.StatusGatewayTimeout, cloudgpt.ErrTimeout, true},
		{http.StatusInternalServerError, cloudgpt.ErrProviderUnavailable, true},
		{http.StatusTeapot, cloudgpt.ErrProviderUnavailable, true},
		{http.StatusBadRequest, cloudgpt.ErrInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := cloudgpt.NewProviderError("p", tt.status, "", 0)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, cloudgpt.IsRetryable(err))
			assert.Equal(t, !tt.retryable, cloudgpt.IsFatal(err))
		})
	}
}

func TestNewProviderError_TeapotRemapped(t *testing.T) {
	pe := cloudgpt.NewProviderError("pollinations", http.StatusTeapot, "I'm a teapot", 0)
	assert.Equal(t, http.StatusServiceUnavailable, pe.Status)
	assert.Equal(t, http.StatusTeapot, pe.OriginalStatus)
}

func TestCheckResponse(t *testing.T) {
	ok := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}
	assert.NoError(t, cloudgpt.CheckResponse("p", ok))

	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 5000))),
	}
	err := cloudgpt.CheckResponse("p", resp)
	var pe *cloudgpt.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
	assert.Len(t, pe.Body, 2048)
}

func TestTransportError(t *testing.T) {
	assert.ErrorIs(t, cloudgpt.TransportError("p", context.DeadlineExceeded), cloudgpt.ErrTimeout)
	assert.ErrorIs(t, cloudgpt.TransportError("p", errors.New("connection reset")), cloudgpt.ErrProviderUnavailable)

	canceled := cloudgpt.TransportError("p", context.Canceled)
	assert.ErrorIs(t, canceled, context.Canceled)
	assert.True(t, cloudgpt.IsFatal(canceled))
}

func TestAsGatewayError(t *testing.T) {
	routed := func(err error) error {
		return &cloudgpt.RouterError{Err: err, Provider: "openrouter", Model: "gemini"}
	}

	tests := []struct {
		name   string
		err    error
		status int
		typ    string
		code   string
	}{
		{"premium", fmt.Errorf("%w: model x", cloudgpt.ErrPremiumRequired), 403, cloudgpt.ErrTypeInvalidRequest, "premium_model_required"},
		{"video", cloudgpt.ErrVideoPlanRequired, 403, cloudgpt.ErrTypeInvalidRequest, "video_plan_required"},
		{"unauthenticated", cloudgpt.Unauthenticated("bad key"), 401, cloudgpt.ErrTypeAuthentication, "invalid_api_key"},
		{"rate limited", routed(cloudgpt.NewProviderError("openrouter", 429, "", 0)), 429, cloudgpt.ErrTypeRateLimit, "provider_rate_limited"},
		{"timeout", routed(cloudgpt.ErrTimeout), 504, cloudgpt.ErrTypeTimeout, "upstream_timeout"},
		{"upstream 500", routed(cloudgpt.NewProviderError("openrouter", 500, "boom", 0)), 502, cloudgpt.ErrTypeProvider, "upstream_error"},
		{"upstream 418", routed(cloudgpt.NewProviderError("openrouter", 418, "", 0)), 503, cloudgpt.ErrTypeProvider, "upstream_error"},
		{"upstream auth", routed(cloudgpt.NewProviderError("openrouter", 401, "", 0)), 502, cloudgpt.ErrTypeAuthentication, "provider_auth_failed"},
		{"no provider", routed(cloudgpt.ErrNoProvider), 500, cloudgpt.ErrTypeServer, "provider_not_configured"},
		{"client gone", routed(context.Canceled), cloudgpt.StatusClientClosedRequest, cloudgpt.ErrTypeInvalidRequest, "client_closed_request"},
		{"unknown", errors.New("disk on fire"), 500, cloudgpt.ErrTypeServer, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ge := cloudgpt.AsGatewayError(tt.err)
			assert.Equal(t, tt.status, ge.Status)
			assert.Equal(t, tt.typ, ge.Type)
			assert.Equal(t, tt.code, ge.Code)
			assert.NotEmpty(t, ge.Suggestion)
		})
	}

	assert.Nil(t, cloudgpt.AsGatewayError(nil))
}

func TestAsGatewayError_ProviderDetail(t *testing.T) {
	err := &cloudgpt.RouterError{
		Err:      cloudgpt.NewProviderError("pollinations", 418, "", 3*time.Second),
		Provider: "pollinations",
	}
	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, "pollinations", ge.Provider)
	assert.Equal(t, 418, ge.OriginalStatus)
	assert.Equal(t, 3*time.Second, ge.RetryAfter)

	ge = cloudgpt.AsGatewayError(&cloudgpt.RouterError{Err: cloudgpt.ErrTimeout, Provider: "horde"})
	assert.Equal(t, "horde", ge.Provider)
	assert.Equal(t, "Retry with a shorter prompt or a faster model.", ge.Suggestion)
}

func TestAsGatewayError_ModelNotFound(t *testing.T) {
	_, err := cloudgpt.DefaultRegistry().Resolve("gpt-5-ultra")
	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, http.StatusNotFound, ge.Status)
	assert.Equal(t, "model_not_found", ge.Code)
	assert.Equal(t, "model", ge.Param)
	assert.Contains(t, ge.Suggestion, "GET /v1/models")
}

func TestRateLimitedGatewayError(t *testing.T) {
	ge := cloudgpt.RateLimited("minute", 42*time.Second)
	assert.Equal(t, http.StatusTooManyRequests, ge.Status)
	assert.Equal(t, 42*time.Second, ge.RetryAfter)
	assert.ErrorIs(t, ge, cloudgpt.ErrQuotaExceeded)
}
