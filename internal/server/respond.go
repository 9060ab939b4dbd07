package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message        string `json:"message"`
	Type           string `json:"type"`
	Code           string `json:"code"`
	Param          string `json:"param,omitempty"`
	RequestID      string `json:"request_id"`
	Provider       string `json:"provider,omitempty"`
	RetryAfter     int64  `json:"retry_after,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
	OriginalStatus int    `json:"original_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge := cloudgpt.AsGatewayError(err)
	reqID := RequestID(r.Context())

	if ge.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", reqID,
			"path", r.URL.Path,
			"status", ge.Status,
			"code", ge.Code,
			"error", err,
		)
	} else {
		s.logger.Debug("request rejected", "request_id", reqID, "status", ge.Status, "code", ge.Code, "error", err)
	}

	var retryAfter int64
	if ge.RetryAfter > 0 {
		retryAfter = int64(math.Ceil(ge.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	}

	writeJSON(w, ge.Status, errorBody{Error: errorDetail{
		Message:        ge.Message,
		Type:           ge.Type,
		Code:           ge.Code,
		Param:          ge.Param,
		RequestID:      reqID,
		Provider:       ge.Provider,
		RetryAfter:     retryAfter,
		Suggestion:     ge.Suggestion,
		OriginalStatus: ge.OriginalStatus,
	}})
}

func setRateHeaders(w http.ResponseWriter, d cloudgpt.RateDecision) {
	h := w.Header()
	setWindow := func(prefix string, q cloudgpt.QuotaResult) {
		h.Set(prefix+"-Limit", strconv.FormatInt(q.Limit, 10))
		h.Set(prefix+"-Remaining", strconv.FormatInt(max(q.Remaining, 0), 10))
		if !q.ResetAt.IsZero() {
			h.Set(prefix+"-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))
		}
	}
	setWindow("X-RateLimit", d.Minute)
	setWindow("X-DailyLimit", d.Daily)
}

// rateLimitError builds the 429 for a denied decision.
func rateLimitError(d cloudgpt.RateDecision, now time.Time) *cloudgpt.GatewayError {
	return cloudgpt.RateLimited(d.Window, d.RetryAfter(now))
}
