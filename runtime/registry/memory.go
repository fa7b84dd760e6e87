package registry

import (
	"context"
	"sort"
	"sync"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// MemoryStore is an in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Register adds or replaces a record.
func (s *MemoryStore) Register(_ context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidID
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now()
	}
	cp.UpdatedAt = cp.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cp.ID] = &cp
	return nil
}

// Update sets the state and last error code of a session.
func (s *MemoryStore) Update(_ context.Context, id string, state State, code pkgerrors.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	if code != pkgerrors.CodeNone {
		rec.LastErrorCode = code
	}
	rec.UpdatedAt = now()
	return nil
}

// Deregister removes a record.
func (s *MemoryStore) Deregister(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Get returns a copy of a record.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns copies of every record, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

// Count returns the number of registered sessions.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func sortRecords(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
