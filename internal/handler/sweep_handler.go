package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/internal/service"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/response"
)

// SweepHandler exposes admin endpoints for the coverage recompute sweep.
type SweepHandler struct {
	sweep *service.SweepService
}

// NewSweepHandler constructs SweepHandler.
func NewSweepHandler(sweep *service.SweepService) *SweepHandler {
	return &SweepHandler{sweep: sweep}
}

// Recompute godoc
// @Summary Recompute coverage projections for a date range
// @Tags Sweep
// @Accept json
// @Produce json
// @Param payload body models.DateRange true "Affected date range"
// @Success 200 {object} response.Envelope
// @Router /sweep/recompute [post]
func (h *SweepHandler) Recompute(c *gin.Context) {
	var r models.DateRange
	if err := c.ShouldBindJSON(&r); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "range start must not be after end"))
		return
	}
	report, err := h.sweep.RecomputeRange(c.Request.Context(), r)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
