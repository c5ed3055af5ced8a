package store

import (
	"context"
	"sort"
	"sync"

	"github.com/opsi-org/cachesync/internal/object"
)

// MemoryStore is a map-backed Store for tests and ephemeral baselines.
// Records are cloned on the way in and out, so callers can never alias
// stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]map[string]object.Record // type -> ident -> record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{recs: make(map[string]map[string]object.Record)}
}

// CreateSchema is a no-op for an already-initialized memory store.
func (s *MemoryStore) CreateSchema(ctx context.Context) error {
	return nil
}

// DropSchema discards all content.
func (s *MemoryStore) DropSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = make(map[string]map[string]object.Record)
	return nil
}

// GetObjects returns matching records in ident order.
func (s *MemoryStore) GetObjects(ctx context.Context, typeName string, f Filter) ([]object.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byIdent := s.recs[typeName]
	idents := make([]string, 0, len(byIdent))
	for ident := range byIdent {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	var out []object.Record
	for _, ident := range idents {
		rec := byIdent[ident]
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// CreateObjects inserts records, replacing existing idents.
func (s *MemoryStore) CreateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(typeName, recs)
}

// UpdateObjects upserts records.
func (s *MemoryStore) UpdateObjects(ctx context.Context, typeName string, recs []object.Record) error {
	return s.write(typeName, recs)
}

func (s *MemoryStore) write(typeName string, recs []object.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIdent := s.recs[typeName]
	if byIdent == nil {
		byIdent = make(map[string]object.Record)
		s.recs[typeName] = byIdent
	}
	for _, rec := range recs {
		byIdent[rec.Ident()] = rec.Clone()
	}
	return nil
}

// DeleteObjects removes records by ident; absent records are ignored.
func (s *MemoryStore) DeleteObjects(ctx context.Context, typeName string, recs []object.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIdent := s.recs[typeName]
	for _, rec := range recs {
		delete(byIdent, rec.Ident())
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
