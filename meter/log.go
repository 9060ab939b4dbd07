package meter

import (
	"log/slog"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// LogMeter logs routing events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ cloudgpt.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger.With("component", "router")}
}

func (m *LogMeter) OnRoute(e cloudgpt.RouteEvent) {
	m.Logger.Debug("route",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"credential", e.CredentialID,
		"model", e.Model,
		"modality", e.Modality,
		"attempt", e.AttemptNum,
		"fast_path", e.FastPath,
		"fallback", e.Fallback,
		"estimated_tokens", e.EstimatedIn,
	)
}

func (m *LogMeter) OnResult(e cloudgpt.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"credential", e.CredentialID,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"credential", e.CredentialID,
			"model", e.Model,
			"outcome", e.Outcome,
			"status", e.Status,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
