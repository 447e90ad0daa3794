package handlers

import (
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db           *gorm.DB
	leaseService *services.LeaseService
}

func NewHealthHandler(db *gorm.DB, leaseService *services.LeaseService) *HealthHandler {
	return &HealthHandler{db: db, leaseService: leaseService}
}

// Check reports process liveness, database reachability and lease held
// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	dbOK := true
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.Ping() != nil {
		dbOK = false
	}

	status := 200
	state := "ok"
	if !dbOK {
		status = 503
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     state,
		"database":   dbOK,
		"lease_held": h.leaseService.Held(),
	})
}
