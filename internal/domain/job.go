package domain

import "time"

// JobStatus represents the status of a bulk ingest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IngestJob records one bulk ingestion run over a data source.
type IngestJob struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	Source         string     `gorm:"type:text;not null;index" json:"source"`
	Status         JobStatus  `gorm:"type:text;default:pending" json:"status"`
	DryRun         bool       `gorm:"default:false" json:"dry_run"`
	TotalItems     int        `gorm:"default:0" json:"total_items"`
	ProcessedItems int        `gorm:"default:0" json:"processed_items"`
	FailedItems    int        `gorm:"default:0" json:"failed_items"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorLog       string     `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestJob.
func (IngestJob) TableName() string {
	return "ingest_jobs"
}
