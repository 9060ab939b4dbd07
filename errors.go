package cloudgpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrModelNotFound         = errors.New("cloudgpt: model not found")
	ErrRateLimited           = errors.New("cloudgpt: rate limited by provider")
	ErrAuthFailed            = errors.New("cloudgpt: upstream authentication failed")
	ErrInvalidRequest        = errors.New("cloudgpt: invalid request")
	ErrProviderUnavailable   = errors.New("cloudgpt: provider unavailable")
	ErrProviderMisconfigured = errors.New("cloudgpt: provider not configured")
	ErrTimeout               = errors.New("cloudgpt: upstream timeout")
	ErrUnsupported           = errors.New("cloudgpt: operation not supported by provider")
	ErrNoProvider            = errors.New("cloudgpt: no provider registered for model")
	ErrPremiumRequired       = errors.New("cloudgpt: premium model requires a paid plan")
	ErrVideoPlanRequired     = errors.New("cloudgpt: video generation requires a video-capable plan")
	ErrQuotaExceeded         = errors.New("cloudgpt: rate limit exceeded")
	ErrUnauthenticated       = errors.New("cloudgpt: invalid or missing credentials")
)

// ProviderError is a non-2xx upstream answer, classified into one of the
// sentinel errors above.
type ProviderError struct {
	Provider string
	// Status is the effective status after remapping (418 becomes 503).
	Status         int
	OriginalStatus int
	Body           string
	RetryAfter     time.Duration
	kind           error
}

// NewProviderError classifies an upstream HTTP status.
func NewProviderError(provider string, status int, body string, retryAfter time.Duration) *ProviderError {
	effective := status
	if status == http.StatusTeapot {
		effective = http.StatusServiceUnavailable
	}

	var kind error
	switch {
	case effective == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case effective == http.StatusUnauthorized || effective == http.StatusForbidden:
		kind = ErrAuthFailed
	case effective == http.StatusRequestTimeout || effective == http.StatusGatewayTimeout:
		kind = ErrTimeout
	case effective >= 500:
		kind = ErrProviderUnavailable
	case effective >= 400:
		kind = ErrInvalidRequest
	default:
		kind = ErrProviderUnavailable
	}

	return &ProviderError{
		Provider:       provider,
		Status:         effective,
		OriginalStatus: status,
		Body:           body,
		RetryAfter:     retryAfter,
		kind:           kind,
	}
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%v: %s returned %d", e.kind, e.Provider, e.OriginalStatus)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.kind
}

const maxErrorBody = 2048

// CheckResponse returns nil for 2xx responses. Otherwise it drains and closes
// the body and returns a *ProviderError.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return NewProviderError(provider, resp.StatusCode, strings.TrimSpace(string(body)), parseRetryAfter(resp.Header.Get("Retry-After")))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// TransportError classifies a failure to reach a provider at all.
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}

// RouterError wraps the last upstream error with routing context.
type RouterError struct {
	Err      error
	Provider string
	Model    string
	Attempts []Attempt
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("cloudgpt: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, len(e.Attempts), e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error should not be retried with another candidate.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrProviderMisconfigured) ||
		errors.Is(err, context.Canceled)
}

// IsRetryable returns true if the error can be retried with another candidate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnsupported)
}
