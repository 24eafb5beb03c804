package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/api/middleware"
	"github.com/timmy/mmrag/internal/service"
)

// ChatRoomHandler handles chat room endpoints.
type ChatRoomHandler struct {
	chatRoomService *service.ChatRoomService
}

// NewChatRoomHandler creates a new chat room handler.
func NewChatRoomHandler(chatRoomService *service.ChatRoomService) *ChatRoomHandler {
	return &ChatRoomHandler{chatRoomService: chatRoomService}
}

// Save handles POST /api/v1/chatrooms/save.
func (h *ChatRoomHandler) Save(c *gin.Context) {
	var req service.SaveChatRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	room, created, err := h.chatRoomService.Save(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		respondError(c, "Save chat room", err)
		return
	}
	status := "updated"
	if created {
		status = "created"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"room_id":       room.RoomID,
		"message_count": room.MessageCount,
	})
}

// List handles GET /api/v1/chatrooms?limit=&offset=.
func (h *ChatRoomHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rooms, total, err := h.chatRoomService.List(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, "List chat rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_rooms": rooms, "total": total})
}

// ListByVideo handles GET /api/v1/chatrooms/video/:video_id.
func (h *ChatRoomHandler) ListByVideo(c *gin.Context) {
	rooms, err := h.chatRoomService.ListByVideo(c.Request.Context(), middleware.UserID(c), c.Param("video_id"))
	if err != nil {
		respondError(c, "List chat rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_rooms": rooms, "total": len(rooms)})
}

// Get handles GET /api/v1/chatrooms/:room_id.
func (h *ChatRoomHandler) Get(c *gin.Context) {
	room, err := h.chatRoomService.Get(c.Request.Context(), middleware.UserID(c), c.Param("room_id"))
	if err != nil {
		respondError(c, "Get chat room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Delete handles DELETE /api/v1/chatrooms/:room_id.
func (h *ChatRoomHandler) Delete(c *gin.Context) {
	result, err := h.chatRoomService.Delete(c.Request.Context(), middleware.UserID(c), c.Param("room_id"))
	if err != nil {
		respondError(c, "Delete chat room", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
