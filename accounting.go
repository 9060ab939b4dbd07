package cloudgpt

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only usage fact.
type UsageRecord struct {
	ID              string
	BucketKey       string
	UserID          string
	KeyID           int64
	ModelID         string
	Modality        Modality
	EstimatedTokens int64
	WeightedCost    float64
	Status          string
	RequestID       string
	CreatedAt       time.Time
}

// UsageSink persists usage. Implementations live in the usage/ packages.
type UsageSink interface {
	// IncrementKeyUsage adds weight to an API key's running usage counter.
	IncrementKeyUsage(ctx context.Context, keyID int64, weight float64) error

	// AppendUsage stores one usage record.
	AppendUsage(ctx context.Context, rec UsageRecord) error
}

// Accountant records usage in the background. Failures are logged and never
// reach the request that triggered them.
type Accountant struct {
	sink   UsageSink
	queue  *TaskQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountant creates an Accountant writing to sink through queue.
// If logger is nil, slog.Default() is used.
func NewAccountant(sink UsageSink, queue *TaskQueue, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		sink:   sink,
		queue:  queue,
		logger: logger.With("component", "accounting"),
		now:    time.Now,
	}
}

// Record builds a usage record for a completed request and submits it.
func (a *Accountant) Record(caller Caller, m Model, text, status string) {
	if a == nil || a.sink == nil {
		return
	}
	id := caller.Identity
	rec := UsageRecord{
		ID:              uuid.New().String(),
		BucketKey:       id.BucketKey(),
		UserID:          id.UserID,
		KeyID:           id.KeyID,
		ModelID:         m.ID,
		Modality:        m.Modality,
		EstimatedTokens: EstimateTokens(text),
		WeightedCost:    m.Weight(),
		Status:          status,
		RequestID:       caller.RequestID,
		CreatedAt:       a.now().UTC(),
	}

	a.queue.Submit("usage", func(ctx context.Context) error {
		if id.Kind == IdentityAPIKey && id.KeyID != 0 {
			if err := a.sink.IncrementKeyUsage(ctx, id.KeyID, rec.WeightedCost); err != nil {
				a.logger.Warn("increment key usage failed", "key_id", id.KeyID, "request_id", rec.RequestID, "error", err)
			}
		}
		return a.sink.AppendUsage(ctx, rec)
	})
}
