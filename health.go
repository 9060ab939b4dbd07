package cloudgpt

import (
	"sort"
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthCooldown         = 30 * time.Second
)

// HealthState describes the health of one provider credential.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker is a per-credential circuit breaker. It only influences the
// order in which credentials are tried; it never removes one from a chain.
type HealthTracker struct {
	mu      sync.Mutex
	entries map[string]*credentialHealth
	now     func() time.Time
}

type credentialHealth struct {
	state       HealthState
	failures    []time.Time
	unhealthyAt time.Time
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		entries: make(map[string]*credentialHealth),
		now:     time.Now,
	}
}

func healthKey(provider, credentialID string) string {
	return provider + "/" + credentialID
}

// Get returns the current state for a provider credential.
func (h *HealthTracker) Get(provider, credentialID string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[healthKey(provider, credentialID)]
	if !ok {
		return HealthHealthy
	}
	h.refresh(e)
	return e.state
}

// RecordSuccess closes the breaker for a credential.
func (h *HealthTracker) RecordSuccess(provider, credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.getOrCreate(healthKey(provider, credentialID))
	e.state = HealthHealthy
	e.failures = e.failures[:0]
}

// RecordFailure counts a retryable failure. Three failures inside five
// minutes open the breaker for thirty seconds.
func (h *HealthTracker) RecordFailure(provider, credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.getOrCreate(healthKey(provider, credentialID))
	h.refresh(e)

	now := h.now()
	if e.state == HealthHalfOpen {
		e.state = HealthUnhealthy
		e.unhealthyAt = now
		return
	}
	if e.state == HealthUnhealthy {
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := e.failures[:0]
	for _, t := range e.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	e.failures = append(valid, now)

	if len(e.failures) >= healthFailureThreshold {
		e.state = HealthUnhealthy
		e.unhealthyAt = now
	}
}

// Snapshot returns every tracked credential that is not healthy, keyed by
// "provider/credential".
func (h *HealthTracker) Snapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]string, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string)
	for _, k := range keys {
		e := h.entries[k]
		h.refresh(e)
		if e.state != HealthHealthy {
			out[k] = e.state.String()
		}
	}
	return out
}

// refresh moves an open breaker to half-open once the cooldown passed.
// Caller must hold h.mu.
func (h *HealthTracker) refresh(e *credentialHealth) {
	if e.state == HealthUnhealthy && h.now().Sub(e.unhealthyAt) >= healthCooldown {
		e.state = HealthHalfOpen
	}
}

func (h *HealthTracker) getOrCreate(key string) *credentialHealth {
	e, ok := h.entries[key]
	if !ok {
		e = &credentialHealth{state: HealthHealthy}
		h.entries[key] = e
	}
	return e
}
