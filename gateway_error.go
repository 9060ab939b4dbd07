package cloudgpt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Error types exposed to clients.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeProvider       = "provider_error"
	ErrTypeTimeout        = "timeout_error"
	ErrTypeServer         = "server_error"
)

// StatusClientClosedRequest marks requests the client abandoned. Nothing is
// written back to a client that is gone; it only shapes logs and metrics.
const StatusClientClosedRequest = 499

// GatewayError is the client-facing form of every failure.
type GatewayError struct {
	Type           string
	Code           string
	Message        string
	Param          string
	Status         int
	Provider       string
	OriginalStatus int
	RetryAfter     time.Duration
	Suggestion     string
	Err            error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// InvalidRequest builds a 400 error pointing at the offending parameter.
func InvalidRequest(code, param, message string) *GatewayError {
	return &GatewayError{
		Type:    ErrTypeInvalidRequest,
		Code:    code,
		Param:   param,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// Unauthenticated builds a 401 error.
func Unauthenticated(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrTypeAuthentication,
		Code:    "invalid_api_key",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthenticated,
	}
}

// RateLimited builds a 429 error for a locally enforced limit.
func RateLimited(window string, retryAfter time.Duration) *GatewayError {
	return &GatewayError{
		Type:       ErrTypeRateLimit,
		Code:       "rate_limit_exceeded",
		Message:    "rate limit exceeded for the " + window + " window",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Suggestion: "Wait for the window to reset or upgrade your plan.",
		Err:        ErrQuotaExceeded,
	}
}

// AsGatewayError maps any error onto the client taxonomy.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		if ge.Suggestion == "" {
			ge.Suggestion = defaultSuggestion(ge.Type)
		}
		return ge
	}

	var nf *ModelNotFoundError
	if errors.As(err, &nf) {
		out := &GatewayError{
			Type:    ErrTypeInvalidRequest,
			Code:    "model_not_found",
			Param:   "model",
			Message: nf.Error(),
			Status:  http.StatusNotFound,
			Err:     err,
		}
		if len(nf.Suggestions) > 0 {
			out.Suggestion = "Did you mean: " + strings.Join(nf.Suggestions, ", ") + "? See GET /v1/models."
		} else {
			out.Suggestion = "See GET /v1/models for available models."
		}
		return out
	}

	out := &GatewayError{Err: err, Message: err.Error()}
	var pe *ProviderError
	if errors.As(err, &pe) {
		out.Provider = pe.Provider
		out.OriginalStatus = pe.OriginalStatus
		out.RetryAfter = pe.RetryAfter
	}
	var re *RouterError
	if out.Provider == "" && errors.As(err, &re) {
		out.Provider = re.Provider
	}

	switch {
	case errors.Is(err, ErrPremiumRequired):
		out.Type, out.Code, out.Status = ErrTypeInvalidRequest, "premium_model_required", http.StatusForbidden
		out.Param = "model"
		out.Suggestion = "Upgrade to a paid plan or choose a non-premium model."
	case errors.Is(err, ErrVideoPlanRequired):
		out.Type, out.Code, out.Status = ErrTypeInvalidRequest, "video_plan_required", http.StatusForbidden
		out.Param = "model"
		out.Suggestion = "Video generation is available on the video, enterprise and admin plans."
	case errors.Is(err, ErrUnauthenticated):
		out.Type, out.Code, out.Status = ErrTypeAuthentication, "invalid_api_key", http.StatusUnauthorized
	case errors.Is(err, ErrQuotaExceeded):
		out.Type, out.Code, out.Status = ErrTypeRateLimit, "rate_limit_exceeded", http.StatusTooManyRequests
	case errors.Is(err, ErrRateLimited):
		out.Type, out.Code, out.Status = ErrTypeRateLimit, "provider_rate_limited", http.StatusTooManyRequests
		out.Message = "upstream provider is rate limiting requests"
		out.Suggestion = "Retry after a short delay."
	case errors.Is(err, context.Canceled):
		out.Type, out.Code, out.Status = ErrTypeInvalidRequest, "client_closed_request", StatusClientClosedRequest
		out.Message = "request canceled by the client"
		out.Suggestion = "Keep the connection open until the response arrives."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		out.Type, out.Code, out.Status = ErrTypeTimeout, "upstream_timeout", http.StatusGatewayTimeout
		out.Message = "upstream provider did not respond in time"
	case errors.Is(err, ErrAuthFailed):
		out.Type, out.Code, out.Status = ErrTypeAuthentication, "provider_auth_failed", http.StatusBadGateway
		out.Message = "upstream provider rejected the gateway credentials"
	case errors.Is(err, ErrInvalidRequest):
		out.Type, out.Code, out.Status = ErrTypeInvalidRequest, "upstream_rejected", http.StatusBadRequest
	case errors.Is(err, ErrProviderMisconfigured), errors.Is(err, ErrNoProvider):
		out.Type, out.Code, out.Status = ErrTypeServer, "provider_not_configured", http.StatusInternalServerError
	case errors.Is(err, ErrUnsupported):
		out.Type, out.Code, out.Status = ErrTypeInvalidRequest, "unsupported_operation", http.StatusBadRequest
	case errors.Is(err, ErrProviderUnavailable):
		out.Type, out.Code, out.Status = ErrTypeProvider, "upstream_error", http.StatusBadGateway
		if pe != nil && pe.Status == http.StatusServiceUnavailable {
			out.Status = http.StatusServiceUnavailable
		}
		out.Message = "upstream provider failed"
	default:
		out.Type, out.Code, out.Status = ErrTypeServer, "internal_error", http.StatusInternalServerError
		out.Message = "internal server error"
	}
	if out.Suggestion == "" {
		out.Suggestion = defaultSuggestion(out.Type)
	}
	return out
}

func defaultSuggestion(errType string) string {
	switch errType {
	case ErrTypeInvalidRequest:
		return "Fix the request and try again. See GET /v1/models for available models."
	case ErrTypeAuthentication:
		return "Check the Authorization header or sign in again."
	case ErrTypeRateLimit:
		return "Wait for the window to reset or upgrade your plan."
	case ErrTypeProvider:
		return "The upstream provider failed after all fallbacks; retry shortly or choose another model."
	case ErrTypeTimeout:
		return "Retry with a shorter prompt or a faster model."
	default:
		return "Retry later and include the request id if you report the problem."
	}
}
