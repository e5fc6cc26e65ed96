package snapstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"adsync/internal/askdelphi"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Snapshots round-trip through their JSON encoding so tests exercise the
// same serialization path as the real backends. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Write(_ context.Context, name string, snap *askdelphi.Snapshot) error {
	if err := validName(name); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := askdelphi.EncodeSnapshot(&buf, snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = buf.Bytes()
	return nil
}

func (s *MemoryStore) Read(_ context.Context, name string) (*askdelphi.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("snapshot not found: %s", name)
	}
	return askdelphi.DecodeSnapshot(bytes.NewReader(data))
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.docs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Raw returns the stored bytes for name. Test helper for byte-identity
// checks.
func (s *MemoryStore) Raw(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[name]
}

var _ Store = (*MemoryStore)(nil)
