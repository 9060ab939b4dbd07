package cloudgpt

import "time"

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called before each upstream attempt.
	OnRoute(event RouteEvent)

	// OnResult is called when an upstream attempt finishes.
	OnResult(event ResultEvent)
}

// RouteEvent describes one dispatch attempt.
type RouteEvent struct {
	RequestID    string
	Provider     string
	CredentialID string
	Model        string
	Modality     Modality
	AttemptNum   int
	FastPath     bool
	Fallback     bool
	EstimatedIn  int64
}

// ResultEvent describes the outcome of one attempt.
type ResultEvent struct {
	RequestID    string
	Provider     string
	CredentialID string
	Model        string
	Success      bool
	Outcome      Outcome
	Status       int
	Duration     time.Duration
	Error        error
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
