package cloudgpt

import (
	"sort"
	"time"
)

// Policy orders the credentials of one provider before they are tried.
type Policy interface {
	// Select returns candidates in the order they should be attempted. It
	// must return every candidate it was given.
	Select(candidates []Candidate) []Candidate
}

// Candidate is one (provider, credential, upstream model) attempt.
type Candidate struct {
	Provider   Provider
	Credential Credential
	Model      string
	Health     HealthState
	FastPath   bool
	Fallback   bool
	Timeout    time.Duration
}

// HealthRank orders health states: healthy, then half-open, then unhealthy.
func HealthRank(h HealthState) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthHalfOpen:
		return 1
	default:
		return 2
	}
}

// defaultHealthFirstPolicy is an inline health-first policy to avoid import cycles.
type defaultHealthFirstPolicy struct{}

func (p *defaultHealthFirstPolicy) Select(candidates []Candidate) []Candidate {
	result := make([]Candidate, len(candidates))
	copy(result, candidates)
	sort.SliceStable(result, func(i, j int) bool {
		return HealthRank(result[i].Health) < HealthRank(result[j].Health)
	})
	return result
}
