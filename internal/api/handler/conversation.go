package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/api/middleware"
	"github.com/timmy/mmrag/internal/service"
)

// ConversationHandler handles conversation history endpoints.
type ConversationHandler struct {
	conversationService *service.ConversationService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// Save handles POST /api/v1/conversations/save.
func (h *ConversationHandler) Save(c *gin.Context) {
	var req service.SaveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	conv, created, err := h.conversationService.Save(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		respondError(c, "Save conversation", err)
		return
	}
	status := "updated"
	if created {
		status = "created"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"conversation_id": conv.ConversationID,
		"image_path":      conv.ImagePath,
		"shared_frame":    conv.SharedFrame,
	})
}

// SearchConversationsRequest is the body of POST /api/v1/conversations/search.
type SearchConversationsRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// Search handles POST /api/v1/conversations/search.
func (h *ConversationHandler) Search(c *gin.Context) {
	req := SearchConversationsRequest{TopK: 5}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	results, err := h.conversationService.Search(c.Request.Context(), middleware.UserID(c), req.Query, req.TopK)
	if err != nil {
		respondError(c, "Search conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// History handles GET /api/v1/conversations/history?limit=&offset=.
func (h *ConversationHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	convs, total, err := h.conversationService.History(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, "Load history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// Delete handles DELETE /api/v1/conversations/:id.
func (h *ConversationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.conversationService.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		respondError(c, "Delete conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "deleted": true})
}
