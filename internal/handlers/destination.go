package handlers

import (
	"strconv"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DestinationHandler struct {
	db *gorm.DB
}

func NewDestinationHandler(db *gorm.DB) *DestinationHandler {
	return &DestinationHandler{db: db}
}

type destinationRequest struct {
	Name               string `json:"name" binding:"required"`
	Kind               string `json:"kind"`
	Address            string `json:"address" binding:"required"`
	IsActive           *bool  `json:"is_active"`
	MinSendIntervalSec *int   `json:"min_send_interval_sec"`
}

func validKind(kind string) bool {
	switch kind {
	case "", "group", "channel", "user":
		return true
	}
	return false
}

// List returns all destinations
// GET /api/destinations
func (h *DestinationHandler) List(c *gin.Context) {
	var dests []models.Destination
	if err := h.db.Order("id").Find(&dests).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, dests)
}

// GetByID returns one destination
// GET /api/destinations/:id
func (h *DestinationHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid destination id")
		return
	}

	var dest models.Destination
	if err := h.db.First(&dest, uint(id)).Error; err != nil {
		response.NotFound(c, "destination not found")
		return
	}
	response.Success(c, dest)
}

// Create registers a new delivery destination
// POST /api/destinations
func (h *DestinationHandler) Create(c *gin.Context) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !validKind(req.Kind) {
		response.BadRequest(c, "kind must be group, channel or user")
		return
	}

	dest := models.Destination{
		Name:               req.Name,
		Kind:               "group",
		Address:            req.Address,
		IsActive:           true,
		MinSendIntervalSec: 3,
	}
	if req.Kind != "" {
		dest.Kind = req.Kind
	}
	if req.IsActive != nil {
		dest.IsActive = *req.IsActive
	}
	if req.MinSendIntervalSec != nil && *req.MinSendIntervalSec >= 0 {
		dest.MinSendIntervalSec = *req.MinSendIntervalSec
	}
	if err := h.db.Create(&dest).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Created(c, dest)
}

// Update modifies a destination
// PUT /api/destinations/:id
func (h *DestinationHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid destination id")
		return
	}

	var dest models.Destination
	if err := h.db.First(&dest, uint(id)).Error; err != nil {
		response.NotFound(c, "destination not found")
		return
	}

	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !validKind(req.Kind) {
		response.BadRequest(c, "kind must be group, channel or user")
		return
	}

	updates := map[string]interface{}{
		"name":    req.Name,
		"address": req.Address,
	}
	if req.Kind != "" {
		updates["kind"] = req.Kind
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.MinSendIntervalSec != nil && *req.MinSendIntervalSec >= 0 {
		updates["min_send_interval_sec"] = *req.MinSendIntervalSec
	}
	if err := h.db.Model(&dest).Updates(updates).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, dest)
}

// Delete removes a destination
// DELETE /api/destinations/:id
func (h *DestinationHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid destination id")
		return
	}
	if err := h.db.Delete(&models.Destination{}, uint(id)).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}
