package handlers

import (
	"github.com/feedrelay/feedrelay/internal/middleware"
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	operatorService *services.OperatorService
}

func NewAuthHandler(operatorService *services.OperatorService) *AuthHandler {
	return &AuthHandler{operatorService: operatorService}
}

// Login authenticates an operator and returns a JWT
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.operatorService.Login(&req)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// Me returns the current operator's profile
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)
	user, err := h.operatorService.GetByID(userID)
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	response.Success(c, user)
}

// ChangePassword updates the current operator's password
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.operatorService.ChangePassword(userID, req.OldPassword, req.NewPassword); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, nil)
}
