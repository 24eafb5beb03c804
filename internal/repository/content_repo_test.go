package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/domain"
)

func newGormStore(t *testing.T) ContentStore {
	t.Helper()
	db, err := OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormContentStore(db)
}

func newMemoryStore(t *testing.T) ContentStore {
	return NewMemoryContentStore()
}

var contentStores = map[string]func(t *testing.T) ContentStore{
	"gorm":   newGormStore,
	"memory": newMemoryStore,
}

func textRecord(text, category string) *domain.ContentRecord {
	return &domain.ContentRecord{
		ContentType:   domain.ContentTypeText,
		TextContent:   text,
		TextEmbedding: []float32{0.1, 0.2, 0.3},
		Metadata:      map[string]any{"category": category},
	}
}

func TestContentStoreInsertAndGet(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			rec := &domain.ContentRecord{
				ContentType:         domain.ContentTypeMultimodal,
				TextContent:         "red apple",
				ImagePath:           "/data/apple.png",
				TextEmbedding:       []float32{1, 0},
				ImageEmbedding:      []float32{0, 1},
				MultimodalEmbedding: []float32{0.7071, 0.7071},
				Metadata:            map[string]any{"rank": 2},
			}
			id, err := store.Insert(ctx, rec)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, domain.ContentTypeMultimodal, got.ContentType)
			assert.Equal(t, "red apple", got.TextContent)
			assert.Equal(t, "/data/apple.png", got.ImagePath)
			assert.Equal(t, []float32{1, 0}, got.TextEmbedding)
			assert.Equal(t, []float32{0, 1}, got.ImageEmbedding)
			assert.InDeltaSlice(t, []float32{0.7071, 0.7071}, got.MultimodalEmbedding, 1e-6)
			assert.True(t, domain.ValuesEqual(2, got.Metadata["rank"]))
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestContentStoreGetUnknown(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Get(context.Background(), "00000000-0000-0000-0000-000000000000")
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestContentStoreTextRecordHasNoImageVectors(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			id, err := store.Insert(ctx, textRecord("hello", "a"))
			require.NoError(t, err)

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got.ImageEmbedding)
			assert.Nil(t, got.MultimodalEmbedding)
			assert.Nil(t, got.Embedding(domain.SpaceImage))
		})
	}
}

func TestContentStoreFindPreservesInsertionOrder(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			ids, err := store.InsertMany(ctx, []*domain.ContentRecord{
				textRecord("one", "x"),
				textRecord("two", "y"),
				textRecord("three", "x"),
			})
			require.NoError(t, err)
			require.Len(t, ids, 3)

			all, err := store.Find(ctx, domain.ContentFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i, r := range all {
				assert.Equal(t, ids[i], r.ID)
			}

			xs, err := store.Find(ctx, domain.ContentFilter{Metadata: map[string]any{"category": "x"}})
			require.NoError(t, err)
			require.Len(t, xs, 2)
			assert.Equal(t, "one", xs[0].TextContent)
			assert.Equal(t, "three", xs[1].TextContent)
		})
	}
}

func TestContentStoreFindByContentType(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.Insert(ctx, textRecord("words", "a"))
			require.NoError(t, err)
			_, err = store.Insert(ctx, &domain.ContentRecord{
				ContentType:    domain.ContentTypeImage,
				ImagePath:      "/img.png",
				ImageEmbedding: []float32{1, 0},
			})
			require.NoError(t, err)

			images, err := store.Find(ctx, domain.ContentFilter{ContentType: domain.ContentTypeImage})
			require.NoError(t, err)
			require.Len(t, images, 1)
			assert.Equal(t, "/img.png", images[0].ImagePath)

			none, err := store.Find(ctx, domain.ContentFilter{ContentType: domain.ContentTypeVideo})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestContentStoreUpdateMetadata(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			id, err := store.Insert(ctx, textRecord("doc", "old"))
			require.NoError(t, err)

			ok, err := store.UpdateMetadata(ctx, id, map[string]any{"category": "new", "pinned": true})
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "new", got.Metadata["category"])
			assert.Equal(t, true, got.Metadata["pinned"])
			assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.TextEmbedding)

			ok, err = store.UpdateMetadata(ctx, "missing", map[string]any{})
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestContentStoreDelete(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			id, err := store.Insert(ctx, textRecord("doc", "a"))
			require.NoError(t, err)

			ok, err := store.Delete(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.Delete(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Get(ctx, id)
			assert.True(t, errors.Is(err, domain.ErrNotFound))

			all, err := store.Find(ctx, domain.ContentFilter{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestContentStoreInsertManyEmpty(t *testing.T) {
	for name, newStore := range contentStores {
		t.Run(name, func(t *testing.T) {
			ids, err := newStore(t).InsertMany(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryContentStore()
	rec := textRecord("doc", "a")
	id, err := store.Insert(ctx, rec)
	require.NoError(t, err)

	rec.TextEmbedding[0] = 99
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), got.TextEmbedding[0])

	got.Metadata["category"] = "mutated"
	again, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Metadata["category"])
	assert.Equal(t, 1, store.Len())
}

func TestGormInsertManyOrdersPreStampedBatch(t *testing.T) {
	ctx := context.Background()
	store := newGormStore(t)

	same := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var batch []*domain.ContentRecord
	for i := 0; i < 20; i++ {
		r := textRecord(string(rune('a'+i)), "batch")
		r.CreatedAt = same
		r.UpdatedAt = same
		batch = append(batch, r)
	}
	ids, err := store.InsertMany(ctx, batch)
	require.NoError(t, err)

	for i := 1; i < len(batch); i++ {
		assert.True(t, batch[i].CreatedAt.After(batch[i-1].CreatedAt), "created_at %d", i)
		assert.Equal(t, batch[i-1].CreatedAt.Add(time.Microsecond), batch[i].CreatedAt)
	}

	found, err := store.Find(ctx, domain.ContentFilter{})
	require.NoError(t, err)
	require.Len(t, found, len(ids))
	for i, r := range found {
		assert.Equal(t, ids[i], r.ID)
	}
}
