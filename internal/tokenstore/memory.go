package tokenstore

import (
	"sync"

	"adsync/internal/askdelphi"
)

// MemoryStore keeps the token set in memory. Useful in tests and for
// one-shot runs that should leave nothing on disk.
type MemoryStore struct {
	mu sync.Mutex
	ts *askdelphi.TokenSet
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed creates a MemoryStore pre-loaded with a token set.
func Seed(ts *askdelphi.TokenSet) *MemoryStore {
	return &MemoryStore{ts: ts}
}

func (s *MemoryStore) Load() (*askdelphi.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ts == nil {
		return nil, nil
	}
	cp := *s.ts
	return &cp, nil
}

func (s *MemoryStore) Save(ts *askdelphi.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ts
	s.ts = &cp
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts = nil
	return nil
}

var _ askdelphi.TokenStore = (*MemoryStore)(nil)
