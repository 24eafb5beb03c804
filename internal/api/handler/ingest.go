package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/service"
)

// IngestHandler handles ingestion and document endpoints.
type IngestHandler struct {
	ingestService *service.IngestService
	uploads       uploadLimit
}

// NewIngestHandler creates a new ingest handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - maxUploadSize: largest accepted file in bytes; 0 disables the check.
// Returns:
//   - *IngestHandler: initialized handler.
func NewIngestHandler(ingestService *service.IngestService, maxUploadSize int64) *IngestHandler {
	return &IngestHandler{ingestService: ingestService, uploads: uploadLimit{maxSize: maxUploadSize}}
}

// IngestTextRequest is the body of POST /api/v1/ingest/text.
type IngestTextRequest struct {
	Text     string         `json:"text" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// IngestBatchRequest is the body of POST /api/v1/ingest/batch.
type IngestBatchRequest struct {
	Texts     []string         `json:"texts" binding:"required"`
	Metadatas []map[string]any `json:"metadatas"`
}

// IngestText handles POST /api/v1/ingest/text.
func (h *IngestHandler) IngestText(c *gin.Context) {
	var req IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	id, err := h.ingestService.IngestText(c.Request.Context(), req.Text, req.Metadata)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "content_type": "text"})
}

// IngestImage handles POST /api/v1/ingest/image (multipart: file, metadata).
func (h *IngestHandler) IngestImage(c *gin.Context) {
	ctx := c.Request.Context()
	md, err := formMetadata(c)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	ref, err := h.saveUpload(c)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	id, err := h.ingestService.IngestImage(ctx, ref, md)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "content_type": "image", "image_path": ref})
}

// IngestMultimodal handles POST /api/v1/ingest/multimodal (multipart: text, file, metadata).
func (h *IngestHandler) IngestMultimodal(c *gin.Context) {
	ctx := c.Request.Context()
	text := c.PostForm("text")
	if text == "" {
		badRequest(c, "Form field 'text' is required")
		return
	}
	md, err := formMetadata(c)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	ref, err := h.saveUpload(c)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	id, err := h.ingestService.IngestMultimodal(ctx, text, ref, md)
	if err != nil {
		respondError(c, "Ingest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "content_type": "multimodal", "image_path": ref})
}

// IngestBatch handles POST /api/v1/ingest/batch.
func (h *IngestHandler) IngestBatch(c *gin.Context) {
	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	ids, err := h.ingestService.IngestTextBatch(c.Request.Context(), req.Texts, req.Metadatas)
	if err != nil {
		respondError(c, "Batch ingest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids, "count": len(ids)})
}

func (h *IngestHandler) saveUpload(c *gin.Context) (string, error) {
	fh, err := h.uploads.file(c, "file")
	if err != nil {
		return "", err
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.ingestService.SaveUpload(c.Request.Context(), fh.Filename, f, fh.Size, fh.Header.Get("Content-Type"))
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *IngestHandler) GetDocument(c *gin.Context) {
	record, err := h.ingestService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Get document", err)
		return
	}
	c.JSON(http.StatusOK, newRecordView(record))
}

// UpdateMetadataRequest is the body of PATCH /api/v1/documents/:id/metadata.
type UpdateMetadataRequest struct {
	Metadata map[string]any `json:"metadata"`
}

// UpdateMetadata handles PATCH /api/v1/documents/:id/metadata.
func (h *IngestHandler) UpdateMetadata(c *gin.Context) {
	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	id := c.Param("id")
	ok, err := h.ingestService.UpdateDocumentMetadata(c.Request.Context(), id, req.Metadata)
	if err != nil {
		respondError(c, "Update metadata", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
}

// DeleteDocument handles DELETE /api/v1/documents/:id.
func (h *IngestHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.ingestService.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Delete document", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
