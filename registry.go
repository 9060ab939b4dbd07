package cloudgpt

import (
	"fmt"
	"sort"
	"strings"
)

// Modality is the kind of output a model produces.
type Modality string

const (
	ModalityChat      Modality = "chat"
	ModalityImage     Modality = "image"
	ModalityVideo     Modality = "video"
	ModalityEmbedding Modality = "embedding"
)

// Provider family names.
const (
	ProviderPollinations = "pollinations"
	ProviderOpenRouter   = "openrouter"
	ProviderGitHub       = "github"
	ProviderCustom       = "custom"
	ProviderHorde        = "horde"
)

// DefaultChatModel is used when a chat request omits the model.
const DefaultChatModel = "openai"

// Model is one entry of the catalog.
type Model struct {
	ID          string
	DisplayName string
	Provider    string
	// Upstream is the id sent to the provider. Empty means ID.
	Upstream    string
	Modality    Modality
	Premium     bool
	UsageWeight float64
	// MaxDuration caps video length in seconds.
	MaxDuration  int
	RequiresMask bool
	Aliases      []string
}

// UpstreamID returns the provider-side model id.
func (m Model) UpstreamID() string {
	if m.Upstream != "" {
		return m.Upstream
	}
	return m.ID
}

// Weight returns the usage multiplier, 1 when unset.
func (m Model) Weight() float64 {
	if m.UsageWeight <= 0 {
		return 1
	}
	return m.UsageWeight
}

// ModelNotFoundError is returned by Resolve for unknown ids.
type ModelNotFoundError struct {
	Requested   string
	Suggestions []string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Requested)
}

func (e *ModelNotFoundError) Unwrap() error {
	return ErrModelNotFound
}

// Registry resolves requested model ids and aliases to catalog entries.
// It is immutable after construction.
type Registry struct {
	models  []Model
	byID    map[string]int
	aliases map[string]int
}

// NewRegistry builds a registry. Ids and aliases are matched case-insensitively
// and must be globally unique.
func NewRegistry(models []Model) (*Registry, error) {
	r := &Registry{
		models:  make([]Model, 0, len(models)),
		byID:    make(map[string]int, len(models)),
		aliases: make(map[string]int),
	}

	for i, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("cloudgpt: registry: model[%d]: id is required", i)
		}
		if m.Provider == "" {
			return nil, fmt.Errorf("cloudgpt: registry: model %q: provider is required", m.ID)
		}
		if m.Modality == "" {
			m.Modality = ModalityChat
		}
		key := strings.ToLower(m.ID)
		if _, dup := r.byID[key]; dup {
			return nil, fmt.Errorf("cloudgpt: registry: duplicate model id %q", m.ID)
		}
		r.byID[key] = len(r.models)
		r.models = append(r.models, m)
	}

	for idx, m := range r.models {
		for _, a := range m.Aliases {
			key := strings.ToLower(a)
			if _, clash := r.byID[key]; clash {
				return nil, fmt.Errorf("cloudgpt: registry: alias %q of %q shadows a model id", a, m.ID)
			}
			if prev, dup := r.aliases[key]; dup && prev != idx {
				return nil, fmt.Errorf("cloudgpt: registry: alias %q claimed by %q and %q", a, r.models[prev].ID, m.ID)
			}
			r.aliases[key] = idx
		}
	}

	return r, nil
}

// Resolve maps a requested id or alias to its catalog entry.
func (r *Registry) Resolve(requested string) (Model, error) {
	key := strings.ToLower(strings.TrimSpace(requested))
	if idx, ok := r.byID[key]; ok {
		return r.models[idx], nil
	}
	if idx, ok := r.aliases[key]; ok {
		return r.models[idx], nil
	}
	return Model{}, &ModelNotFoundError{Requested: requested, Suggestions: r.suggest(key)}
}

// Get returns the model with exactly this canonical id.
func (r *Registry) Get(id string) (Model, bool) {
	idx, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return Model{}, false
	}
	return r.models[idx], true
}

// IsPremium reports whether the canonical id is in the premium set.
func (r *Registry) IsPremium(id string) bool {
	m, ok := r.Get(id)
	return ok && m.Premium
}

// List returns catalog entries in catalog order. No modality means all.
func (r *Registry) List(modalities ...Modality) []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		if len(modalities) == 0 || containsModality(modalities, m.Modality) {
			out = append(out, m)
		}
	}
	return out
}

// Providers returns the distinct provider names referenced by the catalog.
func (r *Registry) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}

const maxSuggestions = 5

func (r *Registry) suggest(key string) []string {
	stem, _, _ := strings.Cut(key, "-")

	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] && len(out) < maxSuggestions {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, m := range r.models {
		id := strings.ToLower(m.ID)
		if key != "" && (strings.Contains(id, key) || strings.Contains(key, id)) {
			add(m.ID)
		}
	}
	aliases := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		if key != "" && (strings.Contains(a, key) || strings.Contains(key, a)) {
			add(r.models[r.aliases[a]].ID)
		}
	}
	if len(out) == 0 && stem != "" && key != "" {
		for _, m := range r.models {
			if strings.HasPrefix(strings.ToLower(m.ID), stem) {
				add(m.ID)
			}
		}
	}
	if len(out) == 0 {
		for _, m := range r.models {
			if m.Modality == ModalityChat {
				add(m.ID)
			}
		}
	}
	return out
}

func containsModality(list []Modality, m Modality) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
