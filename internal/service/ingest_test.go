package service

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/source/manifest"
	"github.com/timmy/mmrag/internal/storage"
)

func TestIngestText(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	id := f.text(t, "a red bicycle", map[string]any{"source": "unit"})
	record, err := f.ingest.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeText, record.ContentType)
	assert.Equal(t, []float32{1, 0, 0, 1, 1}, record.TextEmbedding)
	assert.Nil(t, record.ImageEmbedding)
	assert.Nil(t, record.MultimodalEmbedding)
	assert.Equal(t, "unit", record.Metadata["source"])

	_, err = f.ingest.IngestText(ctx, "   ", nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestIngestImageAndMultimodal(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writePNG(t, dir, "red.png", red)

	id, err := f.ingest.IngestImage(ctx, path, nil)
	require.NoError(t, err)
	record, err := f.ingest.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeImage, record.ContentType)
	assert.Equal(t, path, record.ImagePath)
	assert.Nil(t, record.TextEmbedding)
	assert.InDelta(t, 1.0, l2Norm(record.ImageEmbedding), 1e-5)

	id, err = f.ingest.IngestMultimodal(ctx, "a red bicycle", path, nil)
	require.NoError(t, err)
	record, err = f.ingest.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeMultimodal, record.ContentType)
	assert.Equal(t, "a red bicycle", record.TextContent)
	assert.Len(t, record.TextEmbedding, lexiconDims)
	assert.InDelta(t, 1.0, l2Norm(record.ImageEmbedding), 1e-5)
	assert.InDelta(t, 1.0, l2Norm(record.MultimodalEmbedding), 1e-5)

	_, err = f.ingest.IngestImage(ctx, filepath.Join(dir, "missing.png"), nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.ingest.IngestMultimodal(ctx, "", path, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	all, err := f.store.Find(ctx, domain.ContentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "failed ingests must not write")
}

func TestIngestRejectsUndecodableImage(t *testing.T) {
	f := newSearchFixture(t)
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o644))

	_, err := f.ingest.IngestImage(context.Background(), path, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestIngestTextBatch(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	ids, err := f.ingest.IngestTextBatch(ctx,
		[]string{"cats", "quantum physics", "a bicycle"},
		[]map[string]any{{"i": 0}, {"i": 1}, {"i": 2}},
	)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	all, err := f.store.Find(ctx, domain.ContentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, ids[i], r.ID)
		assert.EqualValues(t, i, r.Metadata["i"])
	}

	ids, err = f.ingest.IngestTextBatch(ctx, []string{"x", "y"}, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = f.ingest.IngestTextBatch(ctx, []string{"x", "y"}, []map[string]any{{}})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = f.ingest.IngestTextBatch(ctx, nil, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestDocumentLifecycle(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()
	id := f.text(t, "cats", map[string]any{"v": 1})

	ok, err := f.ingest.UpdateDocumentMetadata(ctx, id, map[string]any{"v": 2})
	require.NoError(t, err)
	assert.True(t, ok)
	record, err := f.ingest.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, record.Metadata["v"])

	ok, err = f.ingest.UpdateDocumentMetadata(ctx, "nope", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.ingest.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.ingest.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.ingest.GetDocument(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSaveUpload(t *testing.T) {
	ctx := context.Background()
	objects, err := storage.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	store := repository.NewMemoryContentStore()
	e, _, _ := newTestEmbedder()
	svc := NewIngestService(store, NewEmbedder(e.text, e.joint, NewImageLoader(objects), nil), objects, nil, nil)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(green)))
	ref, err := svc.SaveUpload(ctx, "Photo.PNG", &buf, int64(buf.Len()), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".png"))

	id, err := svc.IngestImage(ctx, ref, nil)
	require.NoError(t, err)
	record, err := svc.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ref, record.ImagePath)

	noStorage := NewIngestService(store, e, nil, nil, nil)
	_, err = noStorage.SaveUpload(ctx, "a.png", strings.NewReader("x"), 1, "image/png")
	assert.True(t, errors.Is(err, domain.ErrDependency))
}

// writeManifest writes a manifest with one item per modality and one item
// whose image is missing.
func writeManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, dir, "images/red.png", red)
	writePNG(t, dir, "images/blue.png", blue)
	lines := []string{
		`{"id":"t1","text":"cats are animals","metadata":{"kind":"text"}}`,
		`{"id":"i1","image":"images/red.png"}`,
		`{"id":"m1","text":"a blue bicycle","image":"images/blue.png"}`,
		`{"id":"bad","image":"images/missing.png"}`,
		`not json`,
	}
	path := filepath.Join(dir, "catalog.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func newJobRepo(t *testing.T) *repository.JobRepository {
	t.Helper()
	db, err := repository.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewJobRepository(db)
}

func TestIngestFromSource(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryContentStore()
	jobs := newJobRepo(t)
	e, _, _ := newTestEmbedder()
	svc := NewIngestService(store, e, nil, jobs, &IngestConfig{Workers: 2, BatchSize: 2})

	stats, err := svc.IngestFromSource(ctx, manifest.NewAdapter(writeManifest(t)), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalItems)
	assert.EqualValues(t, 4, stats.ProcessedItems)
	assert.EqualValues(t, 1, stats.FailedItems)

	all, err := store.Find(ctx, domain.ContentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	types := map[domain.ContentType]int{}
	for _, r := range all {
		types[r.ContentType]++
	}
	assert.Equal(t, map[domain.ContentType]int{
		domain.ContentTypeText:       1,
		domain.ContentTypeImage:      1,
		domain.ContentTypeMultimodal: 1,
	}, types)

	require.NotEmpty(t, stats.JobID)
	job, err := jobs.Get(ctx, stats.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "manifest:catalog", job.Source)
	assert.Equal(t, 1, job.FailedItems)
	assert.Contains(t, job.ErrorLog, "bad")
}

func TestIngestFromSourceDryRunAndLimit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryContentStore()
	e, text, _ := newTestEmbedder()
	svc := NewIngestService(store, e, nil, nil, nil)
	path := writeManifest(t)

	stats, err := svc.IngestFromSource(ctx, manifest.NewAdapter(path), &IngestOptions{DryRun: true})
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.ProcessedItems)
	assert.EqualValues(t, 1, stats.FailedItems)
	assert.Empty(t, stats.JobID)
	assert.Zero(t, text.calls.Load())

	all, err := store.Find(ctx, domain.ContentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	stats, err = svc.IngestFromSource(ctx, manifest.NewAdapter(path), &IngestOptions{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalItems)
	assert.Zero(t, stats.FailedItems)
}
