package cloudgpt

import "time"

// FallbackRule maps a canonical model to an equivalent model on another
// provider. Rules are hand-maintained: a row must only name a model with the
// same output characteristics.
type FallbackRule struct {
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`
	Upstream string `yaml:"upstream"`
}

// FallbackTable is the cross-provider compatibility table.
type FallbackTable []FallbackRule

// DefaultFallbackTable returns the built-in compatibility rows.
func DefaultFallbackTable() FallbackTable {
	return FallbackTable{
		{Model: "gemini", Provider: ProviderOpenRouter, Upstream: "google/gemini-2.5-flash"},
		{Model: "deepseek", Provider: ProviderOpenRouter, Upstream: "deepseek/deepseek-chat"},
		{Model: "deepseek-reasoning", Provider: ProviderOpenRouter, Upstream: "deepseek/deepseek-r1"},
	}
}

// For returns the rules for a canonical model id in table order.
func (t FallbackTable) For(modelID string) []FallbackRule {
	var out []FallbackRule
	for _, r := range t {
		if r.Model == modelID {
			out = append(out, r)
		}
	}
	return out
}

// FastPath sends selected non-streaming chat models to one provider with a
// short timeout before the standard chain.
type FastPath struct {
	Provider string        `yaml:"provider"`
	Timeout  time.Duration `yaml:"timeout"`
	// Models maps canonical id to the fast provider's upstream id.
	Models map[string]string `yaml:"models"`
}

const defaultFastPathTimeout = 10 * time.Second

// DefaultFastPath sends the primary proxy's quick chat models straight to it.
func DefaultFastPath() FastPath {
	return FastPath{
		Provider: ProviderPollinations,
		Timeout:  defaultFastPathTimeout,
		Models: map[string]string{
			"openai":      "openai",
			"openai-fast": "openai-fast",
			"gemini":      "gemini",
		},
	}
}

// Lookup returns the upstream id for a canonical model, if it is fast-pathed.
func (f FastPath) Lookup(modelID string) (string, bool) {
	if f.Provider == "" {
		return "", false
	}
	up, ok := f.Models[modelID]
	return up, ok
}
