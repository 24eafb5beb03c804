package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/api/middleware"
	"github.com/timmy/mmrag/internal/service"
)

// UserHandler handles account endpoints.
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Register handles POST /api/v1/users/register. The body is optional; the
// user id comes from the header.
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}
	req.UserID = middleware.UserID(c)

	user, status, err := h.userService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Register", err)
		return
	}
	code := http.StatusOK
	if status == service.UserStatusCreated {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"status": status, "user": user})
}

// Login handles POST /api/v1/users/login.
func (h *UserHandler) Login(c *gin.Context) {
	user, status, err := h.userService.Login(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, "Login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "user": user})
}

// Profile handles GET /api/v1/users/profile.
func (h *UserHandler) Profile(c *gin.Context) {
	user, err := h.userService.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, "Profile", err)
		return
	}
	c.JSON(http.StatusOK, user)
}
