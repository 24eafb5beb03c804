package repository

import (
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/domain"
)

func TestPayloadValueRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "apple",
		"count": 3,
		"score": 0.5,
		"ok":    true,
		"tags":  []any{"a", "b"},
		"nested": map[string]any{
			"x": nil,
		},
	}
	v, err := toValue(in)
	require.NoError(t, err)

	out, ok := fromValue(v).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "apple", out["name"])
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, 0.5, out["score"])
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, map[string]any{"x": nil}, out["nested"])
}

func TestToValueFallsBackToJSON(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	v, err := toValue(point{X: 7})
	require.NoError(t, err)
	out := fromValue(v).(map[string]any)
	assert.Equal(t, 7.0, out["x"])
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(domain.ContentFilter{}))

	f := buildFilter(domain.ContentFilter{
		ContentType: domain.ContentTypeImage,
		Metadata:    map[string]any{"lang": "en", "pinned": true, "rank": 3},
	})
	require.NotNil(t, f)
	// Numeric conditions are left to the in-process filter.
	assert.Len(t, f.GetMust(), 3)

	keys := map[string]bool{}
	for _, c := range f.GetMust() {
		keys[c.GetField().GetKey()] = true
	}
	assert.True(t, keys["content_type"])
	assert.True(t, keys["metadata.lang"])
	assert.True(t, keys["metadata.pinned"])
}

func TestPointConversion(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.ContentRecord{
		ID:            "6f1d8c1e-4a4b-4f43-9d7e-0c1f6b2f9a10",
		ContentType:   domain.ContentTypeText,
		TextContent:   "hello",
		TextEmbedding: []float32{0.6, 0.8},
		Metadata:      map[string]any{"lang": "en"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	point, err := recordToPoint(rec)
	require.NoError(t, err)

	named := point.GetVectors().GetVectors().GetVectors()
	require.Contains(t, named, vectorText)
	assert.NotContains(t, named, vectorImage)

	_, err = recordToPoint(&domain.ContentRecord{ID: "not-a-uuid"})
	assert.Error(t, err)

	retrieved := &pb.RetrievedPoint{Id: point.GetId(), Payload: point.GetPayload()}
	back := pointToRecord(retrieved)
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, "hello", back.TextContent)
	assert.Equal(t, "en", back.Metadata["lang"])
	assert.True(t, back.CreatedAt.Equal(created))
}
