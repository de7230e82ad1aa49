package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rentbridge.com/app/internal/http/middleware"
	"rentbridge.com/app/internal/modules/escrow"
	"rentbridge.com/app/internal/shared/apperr"
)

type Sweeper interface {
	Status() escrow.Status
	Trigger(ctx context.Context) (int, error)
}

type AdminEscrowHandler struct {
	Scheduler Sweeper
}

func NewAdminEscrowHandler(s Sweeper) *AdminEscrowHandler {
	return &AdminEscrowHandler{Scheduler: s}
}

// GET /admin/escrow/scheduler
func (h *AdminEscrowHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scheduler.Status())
}

// POST /admin/escrow/scheduler/run
func (h *AdminEscrowHandler) Run(c *gin.Context) {
	n, err := h.Scheduler.Trigger(c.Request.Context())
	if errors.Is(err, escrow.ErrSweepRunning) {
		middleware.Fail(c, apperr.ConflictErr("A sweep is already running."))
		return
	}
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": n})
}
