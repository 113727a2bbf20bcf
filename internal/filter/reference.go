package filter

import (
	"context"
	"fmt"
	"sync"
)

// ReferencePersister stores the reference durably.
type ReferencePersister interface {
	LoadReference(ctx context.Context) (*Point, error)
	SaveReference(ctx context.Context, p Point) error
	ClearReference(ctx context.Context) error
}

// ReferenceStore holds the baseline point candidates are filtered against.
// Reads and writes go through one mutex so a concurrent Clear (logout, stale reset)
// never interleaves with an Advance. The persister is optional.
type ReferenceStore struct {
	mu        sync.Mutex
	ref       *Point
	persister ReferencePersister
}

// NewReferenceStore creates an empty store. persister may be nil.
func NewReferenceStore(persister ReferencePersister) *ReferenceStore {
	return &ReferenceStore{persister: persister}
}

// Load replaces the in-memory reference with the persisted one.
func (s *ReferenceStore) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.persister.LoadReference(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync reference: %w", err)
	}
	s.ref = p
	return nil
}

// Get returns a copy of the current reference, or nil.
func (s *ReferenceStore) Get() *Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ref == nil {
		return nil
	}
	p := *s.ref
	return &p
}

// Advance moves the reference to p when p is strictly newer than the current one.
// It reports whether the reference moved.
func (s *ReferenceStore) Advance(ctx context.Context, p Point) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ref != nil && !p.Timestamp.After(s.ref.Timestamp) {
		return false, nil
	}

	if s.persister != nil {
		if err := s.persister.SaveReference(ctx, p); err != nil {
			return false, fmt.Errorf("failed to save sync reference: %w", err)
		}
	}
	s.ref = &p
	return true, nil
}

// Clear forgets the reference so the next sample becomes the new baseline.
func (s *ReferenceStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.ClearReference(ctx); err != nil {
			return fmt.Errorf("failed to clear sync reference: %w", err)
		}
	}
	s.ref = nil
	return nil
}

// Evaluate runs the filter against the current reference.
func (s *ReferenceStore) Evaluate(c Candidate, th Thresholds) Decision {
	return Evaluate(c, s.Get(), th)
}
