package repository

import (
	"context"
	"errors"

	"github.com/timmy/mmrag/internal/domain"
)

// ContentStore persists content records. Implementations assign record IDs on
// insert, return Find results in insertion order, and write each record
// atomically so concurrent readers never see a partial update.
type ContentStore interface {
	// Insert stores a new record and returns its assigned ID.
	Insert(ctx context.Context, record *domain.ContentRecord) (string, error)

	// InsertMany stores records in order and returns their IDs.
	InsertMany(ctx context.Context, records []*domain.ContentRecord) ([]string, error)

	// Find returns every record matching the filter, without a limit.
	Find(ctx context.Context, filter domain.ContentFilter) ([]*domain.ContentRecord, error)

	// Get returns a record by ID or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.ContentRecord, error)

	// UpdateMetadata replaces a record's metadata; false when the ID is unknown.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) (bool, error)

	// Delete removes a record; false when the ID is unknown.
	Delete(ctx context.Context, id string) (bool, error)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
