package repository

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/timmy/mmrag/internal/domain"
)

// MemoryContentStore keeps records in process memory in insertion order.
// Records are copied on the way in and out so callers cannot mutate stored state.
type MemoryContentStore struct {
	mtx     sync.RWMutex
	records []*domain.ContentRecord
	index   map[string]int
}

// NewMemoryContentStore creates an empty store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{index: make(map[string]int)}
}

func cloneRecord(r *domain.ContentRecord) *domain.ContentRecord {
	cpy := *r
	cpy.TextEmbedding = cloneVector(r.TextEmbedding)
	cpy.ImageEmbedding = cloneVector(r.ImageEmbedding)
	cpy.MultimodalEmbedding = cloneVector(r.MultimodalEmbedding)
	cpy.Metadata = maps.Clone(r.Metadata)
	if cpy.Metadata == nil {
		cpy.Metadata = map[string]any{}
	}
	return &cpy
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	cpy := make([]float32, len(v))
	copy(cpy, v)
	return cpy
}

// Insert stores a new record and returns its assigned ID.
func (s *MemoryContentStore) Insert(ctx context.Context, record *domain.ContentRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	stampNew(record, time.Now().UTC())
	s.index[record.ID] = len(s.records)
	s.records = append(s.records, cloneRecord(record))
	return record.ID, nil
}

// InsertMany stores records in order.
func (s *MemoryContentStore) InsertMany(ctx context.Context, records []*domain.ContentRecord) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := time.Now().UTC()
	ids := make([]string, len(records))
	for i, r := range records {
		stampNew(r, now)
		s.index[r.ID] = len(s.records)
		s.records = append(s.records, cloneRecord(r))
		ids[i] = r.ID
	}
	return ids, nil
}

// Find returns copies of matching records in insertion order.
func (s *MemoryContentStore) Find(ctx context.Context, filter domain.ContentFilter) ([]*domain.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make([]*domain.ContentRecord, 0, len(s.records))
	for _, r := range s.records {
		if r != nil && filter.Matches(r) {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

// Get returns a copy of a record by ID.
func (s *MemoryContentStore) Get(ctx context.Context, id string) (*domain.ContentRecord, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("content record %s: %w", id, domain.ErrNotFound)
	}
	return cloneRecord(s.records[i]), nil
}

// UpdateMetadata replaces a record's metadata.
func (s *MemoryContentStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, nil
	}
	updated := cloneRecord(s.records[i])
	updated.Metadata = maps.Clone(metadata)
	if updated.Metadata == nil {
		updated.Metadata = map[string]any{}
	}
	updated.UpdatedAt = time.Now().UTC()
	s.records[i] = updated
	return true, nil
}

// Delete removes a record. The slot is tombstoned to keep indexes stable.
func (s *MemoryContentStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, nil
	}
	s.records[i] = nil
	delete(s.index, id)
	return true, nil
}

// Len returns the number of live records.
func (s *MemoryContentStore) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.index)
}
