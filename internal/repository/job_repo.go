package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/timmy/mmrag/internal/domain"
	"gorm.io/gorm"
)

// JobRepository records bulk ingest runs.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a job, assigning an ID when empty.
func (r *JobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Update saves every column of job.
func (r *JobRepository) Update(ctx context.Context, job *domain.IngestJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.IngestJob, error) {
	var job domain.IngestJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
