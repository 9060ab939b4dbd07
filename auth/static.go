package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// StaticKeys serves keys and profiles from a YAML file:
//
//	keys:
//	  - key: cgpt-...
//	    id: 1
//	    user_id: alice
//	    plan: pro
//	profiles:
//	  alice: pro
type StaticKeys struct {
	mu       sync.RWMutex
	keys     map[string]KeyRecord
	profiles map[string]cloudgpt.Plan
}

var (
	_ KeyLookup     = (*StaticKeys)(nil)
	_ ProfileLookup = (*StaticKeys)(nil)
)

type staticFile struct {
	Keys []struct {
		Key       string `yaml:"key"`
		KeyRecord `yaml:",inline"`
	} `yaml:"keys"`
	Profiles map[string]string `yaml:"profiles"`
}

// LoadStaticKeys reads a key file. ${VAR} references are expanded.
func LoadStaticKeys(path string) (*StaticKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cloudgpt: read keys file: %w", err)
	}
	return ParseStaticKeys(data)
}

// ParseStaticKeys parses key file contents.
func ParseStaticKeys(data []byte) (*StaticKeys, error) {
	var f staticFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("cloudgpt: parse keys file: %w", err)
	}

	s := NewStaticKeys()
	for i, k := range f.Keys {
		if !IsAPIKey(k.Key) || len(k.Key) < MinKeyLength {
			return nil, fmt.Errorf("cloudgpt: keys[%d]: malformed key", i)
		}
		if k.ID == 0 {
			return nil, fmt.Errorf("cloudgpt: keys[%d]: id is required", i)
		}
		if _, dup := s.keys[k.Key]; dup {
			return nil, fmt.Errorf("cloudgpt: keys[%d]: duplicate key", i)
		}
		s.keys[k.Key] = k.KeyRecord
	}
	for user, plan := range f.Profiles {
		s.profiles[user] = cloudgpt.ParsePlan(plan)
	}
	return s, nil
}

// NewStaticKeys returns an empty store.
func NewStaticKeys() *StaticKeys {
	return &StaticKeys{
		keys:     make(map[string]KeyRecord),
		profiles: make(map[string]cloudgpt.Plan),
	}
}

// Add registers a key.
func (s *StaticKeys) Add(key string, rec KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = rec
}

// SetPlan registers a user's plan.
func (s *StaticKeys) SetPlan(userID string, plan cloudgpt.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = plan
}

func (s *StaticKeys) LookupKey(_ context.Context, key string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[key]
	if !ok {
		return KeyRecord{}, ErrKeyNotFound
	}
	return rec, nil
}

// LookupPlan returns the registered plan, or free for unknown users.
func (s *StaticKeys) LookupPlan(_ context.Context, userID string) (cloudgpt.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return cloudgpt.PlanFree, nil
}
