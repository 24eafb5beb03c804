package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/source"
	"github.com/timmy/mmrag/internal/storage"
)

// IngestService handles the data ingestion pipeline
type IngestService struct {
	store        repository.ContentStore
	embedder     *Embedder
	storage      storage.ObjectStorage
	jobs         *repository.JobRepository
	workers      int
	batchSize    int
	storeTimeout time.Duration
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers      int
	BatchSize    int
	StoreTimeout time.Duration
}

// NewIngestService creates a new ingest service. objectStorage and jobs may be nil.
func NewIngestService(
	store repository.ContentStore,
	embedder *Embedder,
	objectStorage storage.ObjectStorage,
	jobs *repository.JobRepository,
	cfg *IngestConfig,
) *IngestService {
	s := &IngestService{
		store:     store,
		embedder:  embedder,
		storage:   objectStorage,
		jobs:      jobs,
		workers:   4,
		batchSize: 50,
	}
	if cfg != nil {
		if cfg.Workers > 0 {
			s.workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			s.batchSize = cfg.BatchSize
		}
		s.storeTimeout = cfg.StoreTimeout
	}
	return s
}

func (s *IngestService) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return ctx, func() {}
}

func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %v", domain.ErrDependency, op, err)
}

func newRecord(contentType domain.ContentType, metadata map[string]any) *domain.ContentRecord {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	return &domain.ContentRecord{
		ContentType: contentType,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *IngestService) insert(ctx context.Context, record *domain.ContentRecord) (string, error) {
	sctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	id, err := s.store.Insert(sctx, record)
	if err != nil {
		return "", storeErr("insert record", err)
	}
	logger.With(logger.Fields{
		logger.FieldRecordID: id,
		logger.FieldBackend:  s.backendNames(record.ContentType),
		"content_type":       string(record.ContentType),
	}).Info(ctx, "Record ingested")
	return id, nil
}

func (s *IngestService) backendNames(t domain.ContentType) string {
	switch t {
	case domain.ContentTypeText:
		return s.embedder.TextModel()
	case domain.ContentTypeImage:
		return s.embedder.JointModel()
	}
	return s.embedder.TextModel() + "+" + s.embedder.JointModel()
}

// IngestText embeds text and stores it as a text record.
func (s *IngestService) IngestText(ctx context.Context, text string, metadata map[string]any) (string, error) {
	vecs, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return "", err
	}
	record := newRecord(domain.ContentTypeText, metadata)
	record.TextContent = text
	record.TextEmbedding = vecs[0]
	return s.insert(ctx, record)
}

// IngestImage embeds the image at path and stores it as an image record.
func (s *IngestService) IngestImage(ctx context.Context, path string, metadata map[string]any) (string, error) {
	if err := s.embedder.Loader().Check(ctx, path); err != nil {
		return "", err
	}
	vecs, err := s.embedder.EmbedImage(ctx, ImageInput{Path: path})
	if err != nil {
		return "", err
	}
	record := newRecord(domain.ContentTypeImage, metadata)
	record.ImagePath = path
	record.ImageEmbedding = vecs[0]
	return s.insert(ctx, record)
}

// IngestMultimodal stores a record carrying text, image and combined vectors.
// The text vector comes from the text backend so text-only queries can match it.
func (s *IngestService) IngestMultimodal(ctx context.Context, text, path string, metadata map[string]any) (string, error) {
	if err := validateTexts([]string{text}); err != nil {
		return "", err
	}
	if err := s.embedder.Loader().Check(ctx, path); err != nil {
		return "", err
	}
	img, err := s.embedder.Loader().Load(ctx, path)
	if err != nil {
		return "", err
	}
	input := ImageInput{Image: img}

	textVecs, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return "", err
	}
	imageVecs, err := s.embedder.EmbedImage(ctx, input)
	if err != nil {
		return "", err
	}
	mmVecs, err := s.embedder.EmbedMultimodal(ctx, []string{text}, []ImageInput{input})
	if err != nil {
		return "", err
	}

	record := newRecord(domain.ContentTypeMultimodal, metadata)
	record.TextContent = text
	record.ImagePath = path
	record.TextEmbedding = textVecs[0]
	record.ImageEmbedding = imageVecs[0]
	record.MultimodalEmbedding = mmVecs[0]
	return s.insert(ctx, record)
}

// IngestTextBatch embeds all texts in one backend call and stores them with
// a single InsertMany. metadatas must be empty or match texts in length.
func (s *IngestService) IngestTextBatch(ctx context.Context, texts []string, metadatas []map[string]any) ([]string, error) {
	if len(metadatas) != 0 && len(metadatas) != len(texts) {
		return nil, fmt.Errorf("%w: %d metadatas for %d texts", domain.ErrInvalidInput, len(metadatas), len(texts))
	}
	vecs, err := s.embedder.EmbedText(ctx, texts...)
	if err != nil {
		return nil, err
	}

	records := make([]*domain.ContentRecord, len(texts))
	for i, text := range texts {
		var md map[string]any
		if len(metadatas) > 0 {
			md = metadatas[i]
		}
		records[i] = newRecord(domain.ContentTypeText, md)
		records[i].TextContent = text
		records[i].TextEmbedding = vecs[i]
	}

	sctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	ids, err := s.store.InsertMany(sctx, records)
	if err != nil {
		return nil, storeErr("insert records", err)
	}
	logger.With(logger.Fields{logger.FieldBackend: s.embedder.TextModel()}).
		WithCount(len(ids)).Info(ctx, "Text batch ingested")
	return ids, nil
}

// GetDocument returns a stored record or domain.ErrNotFound.
func (s *IngestService) GetDocument(ctx context.Context, id string) (*domain.ContentRecord, error) {
	sctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	record, err := s.store.Get(sctx, id)
	if err != nil {
		return nil, storeErr("get record", err)
	}
	return record, nil
}

// UpdateDocumentMetadata replaces a record's metadata.
func (s *IngestService) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]any) (bool, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	sctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	ok, err := s.store.UpdateMetadata(sctx, id, metadata)
	if err != nil {
		return false, storeErr("update metadata", err)
	}
	return ok, nil
}

// DeleteDocument removes a record.
func (s *IngestService) DeleteDocument(ctx context.Context, id string) (bool, error) {
	sctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	ok, err := s.store.Delete(sctx, id)
	if err != nil {
		return false, storeErr("delete record", err)
	}
	if ok {
		logger.With(logger.Fields{logger.FieldRecordID: id}).Info(ctx, "Record deleted")
	}
	return ok, nil
}

// SaveUpload writes an uploaded image to object storage and returns the
// reference to pass to IngestImage or Search.
func (s *IngestService) SaveUpload(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("%w: no object storage configured", domain.ErrDependency)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	key := fmt.Sprintf("uploads/%s%s", uuid.New().String(), ext)
	if err := s.storage.Upload(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("%w: failed to upload to storage: %v", domain.ErrDependency, err)
	}
	return s.storage.Ref(key), nil
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	JobID          string    `json:"job_id,omitempty"`
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	FailedItems    int64     `json:"failed_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// IngestOptions holds options for ingestion
type IngestOptions struct {
	Limit  int  // Max items to read; 0 means all
	DryRun bool // Validate items without embedding or writing
}

// IngestFromSource ingests every item of src with a pool of workers.
// Per-item failures are logged and counted; they do not stop the run.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}

	stats := &IngestStats{
		StartTime: time.Now(),
	}
	job := s.startJob(ctx, src.GetSourceID(), opts.DryRun)
	if job != nil {
		stats.JobID = job.ID
		ctx = logger.WithField(ctx, logger.FieldJobID, job.ID)
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "ingest",
		logger.FieldSource:    src.GetSourceID(),
	})

	logger.CtxInfo(ctx, "Starting ingestion: limit=%d, dry_run=%v, workers=%d", opts.Limit, opts.DryRun, s.workers)

	// Create work channel and results channel
	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	// Start result collector
	var errLog []string
	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				logger.FromContext(ctx).WithFields(logger.Fields{
					"item_id": result.itemID,
				}).WithError(result.err).Error("Failed to process item")
				if len(errLog) < 100 {
					errLog = append(errLog, fmt.Sprintf("%s: %v", result.itemID, result.err))
				}
			}
		}
		close(done)
	}()

	// Fetch items from source
	var fetchErr error
	cursor := ""
	totalFetched := 0
fetch:
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if opts.Limit > 0 {
			remaining := opts.Limit - totalFetched
			if remaining <= 0 {
				break
			}
			batchLimit = min(batchLimit, remaining)
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			fetchErr = err
			logger.FromContext(ctx).WithError(err).Error("Failed to fetch batch")
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	// Close items channel and wait for workers
	close(itemsChan)
	wg.Wait()

	// Close results channel and wait for collector
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	s.finishJob(ctx, job, stats, fetchErr, errLog)

	logger.With(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"failed":    stats.FailedItems,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Ingestion completed")

	if fetchErr != nil {
		return stats, fmt.Errorf("failed to fetch from source: %w", fetchErr)
	}
	return stats, ctx.Err()
}

type processResult struct {
	itemID string
	err    error
}

func (s *IngestService) worker(ctx context.Context, items <-chan source.Item, results chan<- *processResult, opts *IngestOptions) {
	for item := range items {
		if ctx.Err() != nil {
			results <- &processResult{itemID: item.ID, err: ctx.Err()}
			continue
		}
		results <- &processResult{itemID: item.ID, err: s.processItem(ctx, &item, opts.DryRun)}
	}
}

// processItem routes an item by which fields it carries.
func (s *IngestService) processItem(ctx context.Context, item *source.Item, dryRun bool) error {
	hasText := strings.TrimSpace(item.Text) != ""
	hasImage := item.ImagePath != ""

	if dryRun {
		if !hasText && !hasImage {
			return fmt.Errorf("%w: item has neither text nor image", domain.ErrInvalidInput)
		}
		if hasImage {
			return s.embedder.Loader().Check(ctx, item.ImagePath)
		}
		return nil
	}

	var err error
	switch {
	case hasText && hasImage:
		_, err = s.IngestMultimodal(ctx, item.Text, item.ImagePath, item.Metadata)
	case hasImage:
		_, err = s.IngestImage(ctx, item.ImagePath, item.Metadata)
	case hasText:
		_, err = s.IngestText(ctx, item.Text, item.Metadata)
	default:
		err = fmt.Errorf("%w: item has neither text nor image", domain.ErrInvalidInput)
	}
	return err
}

func (s *IngestService) startJob(ctx context.Context, sourceID string, dryRun bool) *domain.IngestJob {
	if s.jobs == nil {
		return nil
	}
	now := time.Now().UTC()
	job := &domain.IngestJob{
		Source:    sourceID,
		Status:    domain.JobStatusRunning,
		DryRun:    dryRun,
		StartedAt: &now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		logger.CtxWarn(ctx, "Failed to record ingest job: %v", err)
		return nil
	}
	return job
}

func (s *IngestService) finishJob(ctx context.Context, job *domain.IngestJob, stats *IngestStats, fetchErr error, errLog []string) {
	if job == nil {
		return
	}
	completed := stats.EndTime.UTC()
	job.TotalItems = int(stats.TotalItems)
	job.ProcessedItems = int(stats.ProcessedItems)
	job.FailedItems = int(stats.FailedItems)
	job.CompletedAt = &completed
	job.Status = domain.JobStatusCompleted
	if fetchErr != nil || ctx.Err() != nil {
		job.Status = domain.JobStatusFailed
		if fetchErr != nil {
			errLog = append(errLog, "fetch: "+fetchErr.Error())
		}
	}
	job.ErrorLog = strings.Join(errLog, "\n")

	// The run context may already be cancelled.
	if err := s.jobs.Update(context.WithoutCancel(ctx), job); err != nil {
		logger.CtxWarn(ctx, "Failed to update ingest job: %v", err)
	}
}
