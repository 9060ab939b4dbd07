// Package usage provides UsageSink implementations. The log sink lives here;
// durable sinks are in the postgres and sqlite sub-packages.
package usage

import (
	"context"
	"log/slog"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// LogSink writes usage records to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

var _ cloudgpt.UsageSink = (*LogSink)(nil)

// NewLogSink creates a LogSink. If logger is nil, slog.Default() is used.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "usage")}
}

func (s *LogSink) IncrementKeyUsage(ctx context.Context, keyID int64, weight float64) error {
	s.logger.DebugContext(ctx, "key usage", "key_id", keyID, "weight", weight)
	return nil
}

func (s *LogSink) AppendUsage(ctx context.Context, rec cloudgpt.UsageRecord) error {
	s.logger.InfoContext(ctx, "usage",
		"request_id", rec.RequestID,
		"bucket", rec.BucketKey,
		"user_id", rec.UserID,
		"model", rec.ModelID,
		"modality", rec.Modality,
		"tokens", rec.EstimatedTokens,
		"weight", rec.WeightedCost,
		"status", rec.Status,
	)
	return nil
}

// MultiSink fans records out to several sinks and returns the first error.
type MultiSink []cloudgpt.UsageSink

var _ cloudgpt.UsageSink = MultiSink(nil)

func (m MultiSink) IncrementKeyUsage(ctx context.Context, keyID int64, weight float64) error {
	var first error
	for _, s := range m {
		if err := s.IncrementKeyUsage(ctx, keyID, weight); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) AppendUsage(ctx context.Context, rec cloudgpt.UsageRecord) error {
	var first error
	for _, s := range m {
		if err := s.AppendUsage(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
