package policy

import cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"

// InOrderPolicy keeps the pool's rotation order and ignores health.
type InOrderPolicy struct{}

var _ cloudgpt.Policy = (*InOrderPolicy)(nil)

// Select returns a copy of candidates unchanged.
func (p *InOrderPolicy) Select(candidates []cloudgpt.Candidate) []cloudgpt.Candidate {
	result := make([]cloudgpt.Candidate, len(candidates))
	copy(result, candidates)
	return result
}
