package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/internal/service"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/response"
)

// CapacityHandler exposes availability and makeup booking endpoints.
type CapacityHandler struct {
	capacity *service.CapacityService
}

// NewCapacityHandler constructs CapacityHandler.
func NewCapacityHandler(capacity *service.CapacityService) *CapacityHandler {
	return &CapacityHandler{capacity: capacity}
}

// Availabilities godoc
// @Summary List free makeup seats per class occurrence
// @Tags Capacity
// @Produce json
// @Param templateIds query string true "Comma separated template IDs"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /capacity/availabilities [get]
func (h *CapacityHandler) Availabilities(c *gin.Context) {
	raw := strings.Split(c.Query("templateIds"), ",")
	templateIDs := make([]string, 0, len(raw))
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			templateIDs = append(templateIDs, id)
		}
	}
	from, err := daykey.Parse(c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid from date"))
		return
	}
	to, err := daykey.Parse(c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid to date"))
		return
	}

	availabilities, err := h.capacity.Availabilities(c.Request.Context(), service.AvailabilityRequest{
		TemplateIDs: templateIDs,
		From:        from,
		To:          to,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availabilities, nil)
}

// BookMakeup godoc
// @Summary Book a makeup seat at a class occurrence
// @Tags Capacity
// @Accept json
// @Produce json
// @Param payload body service.BookMakeupRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Router /capacity/makeups [post]
func (h *CapacityHandler) BookMakeup(c *gin.Context) {
	var req service.BookMakeupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	// Capacity overrides are a staff-only lever regardless of payload.
	if claims := claimsFromContext(c); claims == nil || claims.Role == "" {
		req.Override = false
	} else if claims.Role != models.RoleAdmin && claims.Role != models.RoleStaff {
		req.Override = false
	}

	outcome, err := h.capacity.BookMakeup(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Exceeded != nil {
		response.JSON(c, http.StatusConflict, outcome, nil)
		return
	}
	response.Created(c, outcome)
}
