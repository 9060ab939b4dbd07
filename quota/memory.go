package quota

import (
	"context"
	"sync"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// MemoryQuotaStore is an in-process QuotaStore. Windows roll over lazily on
// the next access after they expire. Counters are lost on restart and are not
// shared between instances.
type MemoryQuotaStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count   int64
	resetAt time.Time
}

var _ cloudgpt.QuotaStore = (*MemoryQuotaStore)(nil)

// Option configures MemoryQuotaStore.
type Option func(*MemoryQuotaStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryQuotaStore) { s.now = now }
}

// NewMemoryQuotaStore creates a new in-memory quota store.
func NewMemoryQuotaStore(opts ...Option) *MemoryQuotaStore {
	s := &MemoryQuotaStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit counts one request if the bucket is under limit.
func (s *MemoryQuotaStore) Hit(_ context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b := s.current(key, w, now)

	if b.count >= limit {
		return cloudgpt.QuotaResult{Allowed: false, Remaining: 0, Limit: limit, ResetAt: b.resetAt}, nil
	}
	b.count++
	return cloudgpt.QuotaResult{Allowed: true, Remaining: limit - b.count, Limit: limit, ResetAt: b.resetAt}, nil
}

// Peek reports the bucket without counting.
func (s *MemoryQuotaStore) Peek(_ context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		return cloudgpt.QuotaResult{Allowed: limit > 0, Remaining: limit, Limit: limit, ResetAt: w.ResetAt(now)}, nil
	}

	remaining := limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	return cloudgpt.QuotaResult{Allowed: remaining > 0, Remaining: remaining, Limit: limit, ResetAt: b.resetAt}, nil
}

// current returns the live bucket for key, opening a new window if the old
// one expired. Caller must hold s.mu.
func (s *MemoryQuotaStore) current(key string, w cloudgpt.Window, now time.Time) *bucket {
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	if b.resetAt.IsZero() || !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = w.ResetAt(now)
	}
	return b
}
