package handlers

import (
	"strconv"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SourceHandler struct {
	db *gorm.DB
}

func NewSourceHandler(db *gorm.DB) *SourceHandler {
	return &SourceHandler{db: db}
}

type sourceRequest struct {
	Name     string `json:"name" binding:"required"`
	URL      string `json:"url" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

// List returns all feed sources with fetch health
// GET /api/sources
func (h *SourceHandler) List(c *gin.Context) {
	var sources []models.FeedSource
	if err := h.db.Order("id").Find(&sources).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, sources)
}

// GetByID returns one feed source
// GET /api/sources/:id
func (h *SourceHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid source id")
		return
	}

	var source models.FeedSource
	if err := h.db.First(&source, uint(id)).Error; err != nil {
		response.NotFound(c, "source not found")
		return
	}
	response.Success(c, source)
}

// Create registers a new feed source
// POST /api/sources
func (h *SourceHandler) Create(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := services.ValidateFeedURL(req.URL); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	source := models.FeedSource{
		Name:     req.Name,
		URL:      req.URL,
		IsActive: true,
	}
	if req.IsActive != nil {
		source.IsActive = *req.IsActive
	}
	if err := h.db.Create(&source).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Created(c, source)
}

// Update modifies a feed source
// PUT /api/sources/:id
func (h *SourceHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid source id")
		return
	}

	var source models.FeedSource
	if err := h.db.First(&source, uint(id)).Error; err != nil {
		response.NotFound(c, "source not found")
		return
	}

	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := services.ValidateFeedURL(req.URL); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updates := map[string]interface{}{
		"name": req.Name,
		"url":  req.URL,
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	// A URL change invalidates the failure streak.
	if req.URL != source.URL {
		updates["consecutive_failures"] = 0
		updates["last_error"] = ""
	}
	if err := h.db.Model(&source).Updates(updates).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, source)
}

// Delete removes a feed source
// DELETE /api/sources/:id
func (h *SourceHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid source id")
		return
	}

	var count int64
	h.db.Model(&models.Automation{}).Where("source_id = ?", uint(id)).Count(&count)
	if count > 0 {
		response.Error(c, response.NewConflict("source is referenced by automations"))
		return
	}

	if err := h.db.Delete(&models.FeedSource{}, uint(id)).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// Items lists recent content items for a source
// GET /api/sources/:id/items
func (h *SourceHandler) Items(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid source id")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var items []models.ContentItem
	if err := h.db.Where("source_id = ?", uint(id)).
		Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, items)
}
