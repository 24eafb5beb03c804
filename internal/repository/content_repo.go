package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/timmy/mmrag/internal/domain"
	"gorm.io/gorm"
)

// contentRow is the SQL shape of a content record. Vectors use pgvector's
// text encoding ("[0.1,0.2]") in TEXT columns so the same schema works on
// sqlite and postgres without the vector extension.
type contentRow struct {
	ID                  string           `gorm:"type:text;primaryKey"`
	ContentType         string           `gorm:"type:text;not null;index:idx_content_type_created,priority:1"`
	TextContent         string           `gorm:"type:text"`
	ImagePath           string           `gorm:"type:text"`
	TextEmbedding       *pgvector.Vector `gorm:"type:text"`
	ImageEmbedding      *pgvector.Vector `gorm:"type:text"`
	MultimodalEmbedding *pgvector.Vector `gorm:"type:text"`
	Metadata            domain.JSONMap   `gorm:"type:text"`
	CreatedAt           time.Time        `gorm:"index:idx_content_type_created,priority:2"`
	UpdatedAt           time.Time
}

func (contentRow) TableName() string {
	return "content_records"
}

func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func newContentRow(r *domain.ContentRecord) *contentRow {
	return &contentRow{
		ID:                  r.ID,
		ContentType:         string(r.ContentType),
		TextContent:         r.TextContent,
		ImagePath:           r.ImagePath,
		TextEmbedding:       toVector(r.TextEmbedding),
		ImageEmbedding:      toVector(r.ImageEmbedding),
		MultimodalEmbedding: toVector(r.MultimodalEmbedding),
		Metadata:            domain.JSONMap(r.Metadata),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (row *contentRow) toRecord() *domain.ContentRecord {
	metadata := map[string]any(row.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &domain.ContentRecord{
		ID:                  row.ID,
		ContentType:         domain.ContentType(row.ContentType),
		TextContent:         row.TextContent,
		ImagePath:           row.ImagePath,
		TextEmbedding:       fromVector(row.TextEmbedding),
		ImageEmbedding:      fromVector(row.ImageEmbedding),
		MultimodalEmbedding: fromVector(row.MultimodalEmbedding),
		Metadata:            metadata,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

// stampNew assigns a fresh ID and fills missing timestamps.
func stampNew(r *domain.ContentRecord, now time.Time) {
	r.ID = uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
}

// GormContentStore implements ContentStore on sqlite or postgres.
type GormContentStore struct {
	db *gorm.DB
}

// NewGormContentStore creates a new GormContentStore.
// Parameters:
//   - db: GORM database handle with content_records migrated.
// Returns:
//   - *GormContentStore: store bound to db.
func NewGormContentStore(db *gorm.DB) *GormContentStore {
	return &GormContentStore{db: db}
}

// Insert stores a new record and returns its assigned ID.
func (s *GormContentStore) Insert(ctx context.Context, record *domain.ContentRecord) (string, error) {
	stampNew(record, time.Now().UTC())
	if err := s.db.WithContext(ctx).Create(newContentRow(record)).Error; err != nil {
		return "", fmt.Errorf("failed to insert content record: %w", err)
	}
	return record.ID, nil
}

// InsertMany stores records in one transaction.
func (s *GormContentStore) InsertMany(ctx context.Context, records []*domain.ContentRecord) ([]string, error) {
	if len(records) == 0 {
		return []string{}, nil
	}
	now := time.Now().UTC()
	rows := make([]*contentRow, len(records))
	ids := make([]string, len(records))
	// created_at must strictly increase at microsecond precision (postgres)
	// so Find returns batch members in input order.
	var prev time.Time
	for i, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		created = created.UTC().Truncate(time.Microsecond)
		if !created.After(prev) {
			created = prev.Add(time.Microsecond)
		}
		if r.UpdatedAt.Before(created) {
			r.UpdatedAt = created
		}
		r.CreatedAt = created
		prev = created
		stampNew(r, now)
		rows[i] = newContentRow(r)
		ids[i] = r.ID
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert content records: %w", err)
	}
	return ids, nil
}

// Find narrows by content type in SQL and applies metadata conditions in
// memory, since JSON operators differ between sqlite and postgres.
func (s *GormContentStore) Find(ctx context.Context, filter domain.ContentFilter) ([]*domain.ContentRecord, error) {
	query := s.db.WithContext(ctx).Model(&contentRow{})
	if filter.ContentType != "" {
		query = query.Where("content_type = ?", string(filter.ContentType))
	}

	var rows []contentRow
	if err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find content records: %w", err)
	}

	records := make([]*domain.ContentRecord, 0, len(rows))
	for i := range rows {
		r := rows[i].toRecord()
		if filter.Matches(r) {
			records = append(records, r)
		}
	}
	return records, nil
}

// Get returns a record by ID.
func (s *GormContentStore) Get(ctx context.Context, id string) (*domain.ContentRecord, error) {
	var row contentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}
	return row.toRecord(), nil
}

// UpdateMetadata replaces metadata and bumps updated_at in a single UPDATE.
func (s *GormContentStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) (bool, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	result := s.db.WithContext(ctx).Model(&contentRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"metadata":   domain.JSONMap(metadata),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update metadata: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Delete removes a record by ID.
func (s *GormContentStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&contentRow{}, "id = ?", id)
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete content record: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
