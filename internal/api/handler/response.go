package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/logger"
)

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...} with the mapped status and logs server-side failures.
func respondError(c *gin.Context, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.CtxError(c.Request.Context(), "%s failed: %v", action, err)
	} else {
		logger.CtxWarn(c.Request.Context(), "%s rejected: %v", action, err)
	}
	c.JSON(status, gin.H{"error": action + " failed: " + err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// RecordView is the API form of a content record. Embeddings are summarised
// by dimension instead of being returned in full.
type RecordView struct {
	ID          string             `json:"id"`
	ContentType domain.ContentType `json:"content_type"`
	TextContent string             `json:"text_content,omitempty"`
	ImagePath   string             `json:"image_path,omitempty"`
	Metadata    map[string]any     `json:"metadata"`
	Embeddings  map[string]int     `json:"embeddings"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func newRecordView(r *domain.ContentRecord) RecordView {
	dims := map[string]int{}
	for _, space := range []domain.EmbeddingSpace{domain.SpaceText, domain.SpaceImage, domain.SpaceMultimodal} {
		if v := r.Embedding(space); v != nil {
			dims[string(space)] = len(v)
		}
	}
	return RecordView{
		ID:          r.ID,
		ContentType: r.ContentType,
		TextContent: r.TextContent,
		ImagePath:   r.ImagePath,
		Metadata:    r.Metadata,
		Embeddings:  dims,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// ResultView is one ranked search hit.
type ResultView struct {
	RecordView
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
}

// SearchResponse wraps ranked hits.
type SearchResponse struct {
	Results []ResultView `json:"results"`
	Total   int          `json:"total"`
}

func newSearchResponse(results []domain.SearchResult) SearchResponse {
	views := make([]ResultView, len(results))
	for i, r := range results {
		views[i] = ResultView{RecordView: newRecordView(r.Record), Score: r.Score, Distance: r.Distance}
	}
	return SearchResponse{Results: views, Total: len(views)}
}
