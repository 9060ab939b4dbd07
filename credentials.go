package cloudgpt

import (
	"fmt"
	"sync/atomic"
)

// Credential is one upstream API key.
type Credential struct {
	ID  string
	Key string `json:"-"`
}

// CredentialPool rotates over a provider's API keys. It is safe for
// concurrent use.
type CredentialPool struct {
	creds []Credential
	next  atomic.Uint64
}

// NewCredentialPool builds a pool from raw keys, skipping empty ones.
// Credential ids are positional ("key-1", "key-2", ...).
func NewCredentialPool(keys ...string) *CredentialPool {
	p := &CredentialPool{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		p.creds = append(p.creds, Credential{ID: fmt.Sprintf("key-%d", len(p.creds)+1), Key: k})
	}
	return p
}

// Len returns the number of keys in the pool.
func (p *CredentialPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.creds)
}

// Sequence returns every credential once, starting at the next rotation
// offset. An empty pool yields a single keyless credential so adapters can
// apply their own anonymous behavior.
func (p *CredentialPool) Sequence() []Credential {
	if p.Len() == 0 {
		return []Credential{{ID: "anonymous"}}
	}
	n := len(p.creds)
	start := int((p.next.Add(1) - 1) % uint64(n))
	out := make([]Credential, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.creds[(start+i)%n])
	}
	return out
}
