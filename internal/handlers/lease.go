package handlers

import (
	"github.com/feedrelay/feedrelay/internal/services"
	"github.com/feedrelay/feedrelay/pkg/response"
	"github.com/gin-gonic/gin"
)

type LeaseHandler struct {
	leaseService *services.LeaseService
}

func NewLeaseHandler(leaseService *services.LeaseService) *LeaseHandler {
	return &LeaseHandler{leaseService: leaseService}
}

// Status returns the current session lease state
// GET /api/session/lease
func (h *LeaseHandler) Status(c *gin.Context) {
	info, err := h.leaseService.Status()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, info)
}

// ForceTakeover seizes the lease regardless of the current owner. The
// previous holder observes the conflict on its next renew and steps down.
// POST /api/session/lease/takeover
func (h *LeaseHandler) ForceTakeover(c *gin.Context) {
	info, err := h.leaseService.ForceTakeover()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, info)
}

// Release voluntarily gives up the lease
// POST /api/session/lease/release
func (h *LeaseHandler) Release(c *gin.Context) {
	if err := h.leaseService.Release(); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	info, err := h.leaseService.Status()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, info)
}
