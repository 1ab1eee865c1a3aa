package profile

import (
	"context"
	"strings"
	"sync"
)

// MemStore is a development fallback used when no Redis is configured.
// Records live only for the lifetime of the process.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]*Profile)}
}

func (s *MemStore) Get(_ context.Context, name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.TrimSpace(name)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) Put(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[strings.TrimSpace(p.Name)] = &cp
	return nil
}
