package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	textModel  string
	jointModel string
}

// NewHealthHandler creates a new health handler reporting the loaded models.
func NewHealthHandler(textModel, jointModel string) *HealthHandler {
	return &HealthHandler{textModel: textModel, jointModel: jointModel}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"text_model":  h.textModel,
		"joint_model": h.jointModel,
	})
}
