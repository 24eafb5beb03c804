package handler

import (
	"fmt"
	"image"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/domain"
	"github.com/timmy/mmrag/internal/service"
	"github.com/timmy/mmrag/internal/storage"
)

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService *service.SearchService
	objects       storage.ObjectStorage
	textThreshold float64
	uploads       uploadLimit
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search service instance.
//   - objects: storage that image_path references must point into; nil rejects every image_path.
//   - textThreshold: threshold applied by /search/text when the request has none.
//   - maxUploadSize: largest accepted query image in bytes; 0 disables the check.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService *service.SearchService, objects storage.ObjectStorage, textThreshold float64, maxUploadSize int64) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		objects:       objects,
		textThreshold: textThreshold,
		uploads:       uploadLimit{maxSize: maxUploadSize},
	}
}

// SearchRequest is the JSON body of POST /api/v1/search and /search/text.
type SearchRequest struct {
	Text        string             `json:"text"`
	ImagePath   string             `json:"image_path"`
	ContentType domain.ContentType `json:"content_type"`
	Metadata    map[string]any     `json:"metadata"`
	TopK        int                `json:"top_k"`
	Threshold   *float64           `json:"threshold"`
}

func (r *SearchRequest) query() *domain.Query {
	return &domain.Query{
		Text:        r.Text,
		ImagePath:   r.ImagePath,
		ContentType: r.ContentType,
		Metadata:    r.Metadata,
		TopK:        r.TopK,
		Threshold:   r.Threshold,
	}
}

func (h *SearchHandler) run(c *gin.Context, q *domain.Query) {
	results, err := h.searchService.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	c.JSON(http.StatusOK, newSearchResponse(results))
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.checkImageRef(req.ImagePath); err != nil {
		respondError(c, "Search", err)
		return
	}
	h.run(c, req.query())
}

// checkImageRef accepts only references into object storage, such as the
// image_path returned by the ingest endpoints. Server paths are never read.
func (h *SearchHandler) checkImageRef(ref string) error {
	if ref == "" {
		return nil
	}
	if h.objects != nil {
		if _, ok := h.objects.ParseRef(ref); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: image_path must be a stored image reference", domain.ErrInvalidInput)
}

// TextSearch handles POST /api/v1/search/text.
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if req.Text == "" {
		badRequest(c, "Field 'text' is required")
		return
	}
	q := req.query()
	q.ImagePath = ""
	if q.Threshold == nil {
		threshold := h.textThreshold
		q.Threshold = &threshold
	}
	h.run(c, q)
}

// ImageSearch handles POST /api/v1/search/image (multipart: file, top_k, content_type).
func (h *SearchHandler) ImageSearch(c *gin.Context) {
	img, err := h.uploads.decodeFile(c, "file")
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	h.run(c, &domain.Query{
		Image:       img,
		TopK:        topK,
		ContentType: domain.ContentType(c.PostForm("content_type")),
	})
}

// MultimodalSearch handles POST /api/v1/search/multimodal (multipart: text, file, top_k).
func (h *SearchHandler) MultimodalSearch(c *gin.Context) {
	text := c.PostForm("text")
	if text == "" {
		badRequest(c, "Form field 'text' is required")
		return
	}
	img, err := h.uploads.decodeFile(c, "file")
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		respondError(c, "Search", err)
		return
	}
	h.run(c, &domain.Query{Text: text, Image: img, TopK: topK})
}

// HybridSearch handles POST /api/v1/search/hybrid (multipart: text, file, text_weight, top_k).
// Either text or file may be omitted.
func (h *SearchHandler) HybridSearch(c *gin.Context) {
	var img image.Image
	if _, err := c.FormFile("file"); err == nil {
		if img, err = h.uploads.decodeFile(c, "file"); err != nil {
			respondError(c, "Hybrid search", err)
			return
		}
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		respondError(c, "Hybrid search", err)
		return
	}
	weight, err := formFloat(c, "text_weight")
	if err != nil {
		respondError(c, "Hybrid search", err)
		return
	}

	results, err := h.searchService.HybridSearch(c.Request.Context(), &domain.HybridQuery{
		Text:       c.PostForm("text"),
		Image:      img,
		TextWeight: weight,
		TopK:       topK,
	})
	if err != nil {
		respondError(c, "Hybrid search", err)
		return
	}
	c.JSON(http.StatusOK, newSearchResponse(results))
}
