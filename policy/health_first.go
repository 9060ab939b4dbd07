package policy

import (
	"sort"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// HealthFirstPolicy tries healthy credentials first, then half-open ones, then
// those with an open breaker. Rotation order is kept within each group.
type HealthFirstPolicy struct{}

var _ cloudgpt.Policy = (*HealthFirstPolicy)(nil)

// Select orders candidates by health, stable.
func (p *HealthFirstPolicy) Select(candidates []cloudgpt.Candidate) []cloudgpt.Candidate {
	result := make([]cloudgpt.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		return cloudgpt.HealthRank(result[i].Health) < cloudgpt.HealthRank(result[j].Health)
	})

	return result
}
