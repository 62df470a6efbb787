package dedup

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps outcomes in process memory with per-entry TTLs.
// Suitable for single-instance deployments and tests.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(24*time.Hour, 10*time.Minute),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Outcome, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	o := v.(Outcome)
	return &o, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, o Outcome, ttl time.Duration) error {
	s.cache.Set(key, o, ttl)
	return nil
}
