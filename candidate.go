package cloudgpt

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRejected    Outcome = "rejected"
)

// Attempt is one entry of a request's attempt history.
type Attempt struct {
	Provider     string
	CredentialID string
	Model        string
	Outcome      Outcome
	Status       int
	Duration     time.Duration
	FastPath     bool
	Fallback     bool
}

func classifyOutcome(err error) (Outcome, int) {
	if err == nil {
		return OutcomeSuccess, http.StatusOK
	}
	status := 0
	var pe *ProviderError
	if errors.As(err, &pe) {
		status = pe.OriginalStatus
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited, status
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout, status
	case IsRetryable(err):
		return OutcomeUnavailable, status
	default:
		return OutcomeRejected, status
	}
}

// RoutedRequest is the state of one request while it is being routed. The
// attempt history is owned by the routing goroutine and never shared.
type RoutedRequest struct {
	Model    Model
	Caller   Caller
	Deadline time.Time
	Attempts []Attempt
	// Stream attempts keep their context for the life of the response.
	Stream bool
}

func (rr *RoutedRequest) record(c Candidate, err error, d time.Duration) Attempt {
	outcome, status := classifyOutcome(err)
	a := Attempt{
		Provider:     c.Provider.Name(),
		CredentialID: c.Credential.ID,
		Model:        c.Model,
		Outcome:      outcome,
		Status:       status,
		Duration:     d,
		FastPath:     c.FastPath,
		Fallback:     c.Fallback,
	}
	rr.Attempts = append(rr.Attempts, a)
	return a
}

// capability filters providers able to serve a modality.
type capability func(Provider) bool

func chatCapable(Provider) bool { return true }

func imageCapable(p Provider) bool {
	_, ok := p.(ImageGenerator)
	return ok
}

func videoCapable(p Provider) bool {
	_, ok := p.(VideoGenerator)
	return ok
}

func embeddingCapable(p Provider) bool {
	_, ok := p.(Embedder)
	return ok
}

func capabilityFor(m Modality) capability {
	switch m {
	case ModalityImage:
		return imageCapable
	case ModalityVideo:
		return videoCapable
	case ModalityEmbedding:
		return embeddingCapable
	default:
		return chatCapable
	}
}

// candidatesFor expands a provider into one candidate per pooled credential,
// in rotation order.
func (r *Router) candidatesFor(p Provider, upstream string, fallback bool, timeout time.Duration) []Candidate {
	creds := r.pools[p.Name()].Sequence()
	out := make([]Candidate, 0, len(creds))
	for _, cred := range creds {
		out = append(out, Candidate{
			Provider:   p,
			Credential: cred,
			Model:      upstream,
			Health:     r.health.Get(p.Name(), cred.ID),
			Fallback:   fallback,
			Timeout:    timeout,
		})
	}
	return r.policy.Select(out)
}

// buildChain returns the ordered attempt chain for m: every credential of the
// owning provider, then every credential of each compatible fallback provider.
func (r *Router) buildChain(m Model) ([]Candidate, error) {
	can := capabilityFor(m.Modality)

	prov, ok := r.providers[m.Provider]
	if !ok {
		return nil, &RouterError{Err: ErrNoProvider, Provider: m.Provider, Model: m.ID}
	}
	if !can(prov) {
		return nil, &RouterError{Err: ErrUnsupported, Provider: m.Provider, Model: m.ID}
	}

	timeout := r.timeouts.Attempt
	if m.Modality == ModalityImage || m.Modality == ModalityVideo {
		timeout = r.timeouts.MediaAttempt
	}

	chain := r.candidatesFor(prov, m.UpstreamID(), false, timeout)
	for _, rule := range r.fallbacks.For(m.ID) {
		fp, ok := r.providers[rule.Provider]
		if !ok || fp.Name() == prov.Name() || !can(fp) {
			continue
		}
		chain = append(chain, r.candidatesFor(fp, rule.Upstream, true, timeout)...)
	}
	return chain, nil
}
