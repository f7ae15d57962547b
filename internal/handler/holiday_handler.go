package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanekeeper/swim-ops-api/internal/service"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/response"
)

// HolidayHandler exposes holiday and cancellation admin endpoints.
type HolidayHandler struct {
	holidays *service.HolidayService
}

// NewHolidayHandler constructs HolidayHandler.
func NewHolidayHandler(holidays *service.HolidayService) *HolidayHandler {
	return &HolidayHandler{holidays: holidays}
}

// List godoc
// @Summary List holidays overlapping a date range
// @Tags Holidays
// @Produce json
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /holidays [get]
func (h *HolidayHandler) List(c *gin.Context) {
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
	holidays, err := h.holidays.ListOverlapping(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, holidays, nil)
}

// Create godoc
// @Summary Create a holiday
// @Tags Holidays
// @Accept json
// @Produce json
// @Param payload body service.HolidayRequest true "Holiday payload"
// @Success 201 {object} response.Envelope
// @Router /holidays [post]
func (h *HolidayHandler) Create(c *gin.Context) {
	var req service.HolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	holiday, err := h.holidays.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, holiday)
}

// Update godoc
// @Summary Update a holiday
// @Tags Holidays
// @Accept json
// @Produce json
// @Param id path string true "Holiday ID"
// @Param payload body service.HolidayRequest true "Holiday payload"
// @Success 200 {object} response.Envelope
// @Router /holidays/{id} [put]
func (h *HolidayHandler) Update(c *gin.Context) {
	var req service.HolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	holiday, err := h.holidays.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, holiday, nil)
}

// Delete godoc
// @Summary Delete a holiday
// @Tags Holidays
// @Produce json
// @Param id path string true "Holiday ID"
// @Success 204
// @Router /holidays/{id} [delete]
func (h *HolidayHandler) Delete(c *gin.Context) {
	if err := h.holidays.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CancelOccurrence godoc
// @Summary Cancel one class occurrence and credit affected students
// @Tags Holidays
// @Accept json
// @Produce json
// @Param payload body service.CancelOccurrenceRequest true "Cancellation payload"
// @Success 201 {object} response.Envelope
// @Router /cancellations [post]
func (h *HolidayHandler) CancelOccurrence(c *gin.Context) {
	var req service.CancelOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.holidays.CancelOccurrence(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// UncancelOccurrence godoc
// @Summary Reinstate a cancelled class occurrence
// @Tags Holidays
// @Produce json
// @Param templateId path string true "Class template ID"
// @Param date path string true "Occurrence date (YYYY-MM-DD)"
// @Success 204
// @Router /cancellations/{templateId}/{date} [delete]
func (h *HolidayHandler) UncancelOccurrence(c *gin.Context) {
	date, err := daykey.Parse(c.Param("date"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid date"))
		return
	}
	if err := h.holidays.UncancelOccurrence(c.Request.Context(), c.Param("templateId"), date); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
