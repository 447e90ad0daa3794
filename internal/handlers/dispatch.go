package handlers

import (
	"strconv"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DispatchHandler struct {
	db              *gorm.DB
	dispatchService *services.DispatchService
}

func NewDispatchHandler(db *gorm.DB, dispatchService *services.DispatchService) *DispatchHandler {
	return &DispatchHandler{db: db, dispatchService: dispatchService}
}

// List returns dispatch entries, optionally filtered by status and automation
// GET /api/dispatch?status=pending&automation_id=3
func (h *DispatchHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := h.db.Preload("ContentItem").Preload("Destination").
		Order("id DESC").Limit(limit)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if raw := c.Query("automation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			response.BadRequest(c, "invalid automation id")
			return
		}
		query = query.Where("schedule_id = ?", uint(id))
	}

	var entries []models.DispatchEntry
	if err := query.Find(&entries).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, entries)
}

// Stats returns entry counts grouped by status
// GET /api/dispatch/stats
func (h *DispatchHandler) Stats(c *gin.Context) {
	type row struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var rows []row
	if err := h.db.Model(&models.DispatchEntry{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, rows)
}

// Skip marks a pending entry as skipped by the operator
// POST /api/dispatch/:id/skip
func (h *DispatchHandler) Skip(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	if err := h.dispatchService.Skip(uint(id), services.SkipReasonPausedByUser); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// Resume returns a skipped entry to pending
// POST /api/dispatch/:id/resume
func (h *DispatchHandler) Resume(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid entry id")
		return
	}
	if err := h.dispatchService.Resume(uint(id)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// SkipItem skips every pending entry for one content item
// POST /api/dispatch/items/:id/skip
func (h *DispatchHandler) SkipItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid item id")
		return
	}
	n, err := h.dispatchService.SkipItem(uint(id))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"skipped": n})
}

// ClearPending drops pending entries, optionally scoped to one automation
// POST /api/dispatch/clear-pending?automation_id=3
func (h *DispatchHandler) ClearPending(c *gin.Context) {
	var scheduleID *uint
	if raw := c.Query("automation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			response.BadRequest(c, "invalid automation id")
			return
		}
		u := uint(id)
		scheduleID = &u
	}

	n, err := h.dispatchService.ClearPending(scheduleID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"cleared": n})
}

// Receipt records a delivery receipt from the messaging platform
// POST /api/dispatch/receipts
func (h *DispatchHandler) Receipt(c *gin.Context) {
	var req struct {
		ExternalMessageID string `json:"external_message_id" binding:"required"`
		Receipt           string `json:"receipt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.dispatchService.RecordReceipt(req.ExternalMessageID, req.Receipt); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, nil)
}
