package store

import (
	"context"
	"sort"
	"sync"

	"github.com/openweald/weald/internal/fault"
	"github.com/openweald/weald/internal/world"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe in-memory [Store]. It is the default backend
// when no database is configured and the backend of choice in tests.
//
// Records are deep-copied on both write and read so callers can never reach
// store internals through a shared map.
type MemStore struct {
	mu      sync.RWMutex
	records map[recordKey]world.Record
}

type recordKey struct {
	slot int
	kind string
	id   string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[recordKey]world.Record)}
}

// Load implements [Store].
func (s *MemStore) Load(ctx context.Context, slot int, kind, id string) (world.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{slot, kind, id}]
	if !ok {
		return nil, fault.Newf(fault.NotFound, "store: load", "no %s record %q in slot %d", kind, id, slot)
	}
	return rec.Clone(), nil
}

// Save implements [Store].
func (s *MemStore) Save(ctx context.Context, slot int, kind, id string, rec world.Record) error {
	if id == "" {
		return fault.New(fault.Internal, "store: save", "record id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey{slot, kind, id}] = rec.Clone()
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(ctx context.Context, slot int, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey{slot, kind, id})
	return nil
}

// List implements [Store].
func (s *MemStore) List(ctx context.Context, slot int, kind string, filter Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for key, rec := range s.records {
		if key.slot != slot || key.kind != kind {
			continue
		}
		if !filter.Matches(rec) {
			continue
		}
		ids = append(ids, key.id)
	}
	sort.Strings(ids)
	return ids, nil
}
