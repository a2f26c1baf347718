// Package seen tracks the poem ids already delivered to a feed session.
package seen

import (
	"context"
	"sync"
)

// Set records delivered poem ids. Add must be atomic: when two runs race on
// the same id exactly one of them gets added == true.
type Set interface {
	// Add inserts id and reports whether it was absent.
	Add(ctx context.Context, id int64) (bool, error)
	Contains(ctx context.Context, id int64) (bool, error)
	// Reset empties the set. Used when the content language changes.
	Reset(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemorySet is the in-process Set.
type MemorySet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewMemorySet creates an empty in-memory set.
func NewMemorySet() *MemorySet {
	return &MemorySet{ids: make(map[int64]struct{})}
}

func (s *MemorySet) Add(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}
	return true, nil
}

func (s *MemorySet) Contains(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

func (s *MemorySet) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[int64]struct{})
	return nil
}

func (s *MemorySet) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}
