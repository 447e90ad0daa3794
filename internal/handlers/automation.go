package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AutomationHandler struct {
	db              *gorm.DB
	scheduleService *services.ScheduleService
	diagService     *services.DiagnosticsService
}

func NewAutomationHandler(db *gorm.DB, scheduleService *services.ScheduleService, diagService *services.DiagnosticsService) *AutomationHandler {
	return &AutomationHandler{
		db:              db,
		scheduleService: scheduleService,
		diagService:     diagService,
	}
}

// AutomationRequest is the create/update payload.
type AutomationRequest struct {
	Name           string   `json:"name" binding:"required"`
	DeliveryMode   string   `json:"delivery_mode"`
	BatchTimes     []string `json:"batch_times"`
	Timezone       string   `json:"timezone"`
	CronExpression string   `json:"cron_expression"`
	TemplateText   string   `json:"template_text"`
	SourceID       uint     `json:"source_id" binding:"required"`
	DestinationIDs []uint   `json:"destination_ids"`
}

func (r *AutomationRequest) validate() string {
	switch r.DeliveryMode {
	case "", models.DeliveryModeImmediate:
	case models.DeliveryModeBatched:
		if len(r.BatchTimes) == 0 {
			return "batched delivery requires at least one batch time"
		}
	default:
		return "invalid delivery mode"
	}
	for _, w := range r.BatchTimes {
		if len(w) != 5 || w[2] != ':' {
			return "batch times must be HH:MM"
		}
	}
	return ""
}

func (r *AutomationRequest) apply(auto *models.Automation) error {
	auto.Name = r.Name
	if r.DeliveryMode != "" {
		auto.DeliveryMode = r.DeliveryMode
	}
	if r.Timezone != "" {
		auto.Timezone = r.Timezone
	}
	auto.CronExpression = r.CronExpression
	auto.TemplateText = r.TemplateText
	auto.SourceID = r.SourceID
	if len(r.BatchTimes) > 0 {
		encoded, err := json.Marshal(r.BatchTimes)
		if err != nil {
			return err
		}
		auto.BatchTimes = string(encoded)
	} else {
		auto.BatchTimes = ""
	}
	return nil
}

// List returns all automations with their destinations
// GET /api/automations
func (h *AutomationHandler) List(c *gin.Context) {
	var automations []models.Automation
	if err := h.db.Preload("Source").Preload("Destinations").Order("id").Find(&automations).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, automations)
}

// GetByID returns one automation
// GET /api/automations/:id
func (h *AutomationHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}

	var auto models.Automation
	if err := h.db.Preload("Source").Preload("Destinations").First(&auto, uint(id)).Error; err != nil {
		response.NotFound(c, "automation not found")
		return
	}
	response.Success(c, auto)
}

// Create creates a new automation in draft state
// POST /api/automations
func (h *AutomationHandler) Create(c *gin.Context) {
	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		response.BadRequest(c, msg)
		return
	}

	auto := models.Automation{
		State:        models.AutomationStateDraft,
		DeliveryMode: models.DeliveryModeImmediate,
		Timezone:     "UTC",
	}
	if err := req.apply(&auto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&auto).Error; err != nil {
			return err
		}
		return h.replaceDestinations(tx, &auto, req.DestinationIDs)
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Created(c, auto)
}

// Update modifies an automation's configuration
// PUT /api/automations/:id
func (h *AutomationHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}

	var auto models.Automation
	if err := h.db.First(&auto, uint(id)).Error; err != nil {
		response.NotFound(c, "automation not found")
		return
	}

	var req AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		response.BadRequest(c, msg)
		return
	}
	if err := req.apply(&auto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&auto).Error; err != nil {
			return err
		}
		return h.replaceDestinations(tx, &auto, req.DestinationIDs)
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, auto)
}

// Delete removes an automation
// DELETE /api/automations/:id
func (h *AutomationHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}
	if err := h.db.Delete(&models.Automation{}, uint(id)).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}

// SetState transitions an automation between lifecycle states
// POST /api/automations/:id/state
func (h *AutomationHandler) SetState(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}

	var req struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	switch req.State {
	case models.AutomationStateDraft, models.AutomationStateActive,
		models.AutomationStatePaused, models.AutomationStateStopped:
	default:
		response.BadRequest(c, "invalid state")
		return
	}

	var auto models.Automation
	if err := h.db.First(&auto, uint(id)).Error; err != nil {
		response.NotFound(c, "automation not found")
		return
	}
	if err := h.db.Model(&auto).Update("state", req.State).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	auto.State = req.State
	response.Success(c, auto)
}

// EnqueueNow runs one evaluation pass for a single automation, bypassing
// its timing policy but not its state gate
// POST /api/automations/:id/enqueue-now
func (h *AutomationHandler) EnqueueNow(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}

	result, err := h.scheduleService.EnqueueNow(uint(id))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// DispatchAll enqueues the newest item for every active automation
// POST /api/automations/dispatch-all
func (h *AutomationHandler) DispatchAll(c *gin.Context) {
	result, err := h.scheduleService.DispatchAll()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// Diagnostics reports why an automation is or is not sending
// GET /api/automations/:id/diagnostics
func (h *AutomationHandler) Diagnostics(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid automation id")
		return
	}

	report, err := h.diagService.Report(uint(id))
	if err != nil {
		response.NotFound(c, "automation not found")
		return
	}
	response.Success(c, report)
}

func (h *AutomationHandler) replaceDestinations(tx *gorm.DB, auto *models.Automation, ids []uint) error {
	if ids == nil {
		return nil
	}
	var dests []models.Destination
	if len(ids) > 0 {
		if err := tx.Find(&dests, ids).Error; err != nil {
			return err
		}
	}
	return tx.Model(auto).Association("Destinations").Replace(dests)
}
