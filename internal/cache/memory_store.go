package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"cohortweaver/internal/core"
)

// MemoryStore keeps entries in a bounded LRU. Useful for tests and
// short-lived processes; entries do not survive a restart.
type MemoryStore struct {
	entries *lru.Cache[core.Fingerprint, *Entry]
}

// NewMemoryStore creates a store holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[core.Fingerprint, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fp core.Fingerprint) (*Entry, error) {
	entry, ok := s.entries.Get(fp)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	// Identifier sets are immutable once published, so the pointer is shared.
	cp := *entry
	s.entries.Add(entry.Fingerprint, &cp)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, fp core.Fingerprint) error {
	s.entries.Remove(fp)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int { return s.entries.Len() }
