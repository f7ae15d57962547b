package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/internal/service"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/response"
)

// EnrolmentHandler exposes enrolment endpoints.
type EnrolmentHandler struct {
	enrolments *service.EnrolmentService
	ledger     *service.CreditLedgerService
	changes    *service.LevelChangeService
}

// NewEnrolmentHandler constructs EnrolmentHandler.
func NewEnrolmentHandler(enrolments *service.EnrolmentService, ledger *service.CreditLedgerService, changes *service.LevelChangeService) *EnrolmentHandler {
	return &EnrolmentHandler{enrolments: enrolments, ledger: ledger, changes: changes}
}

// List godoc
// @Summary List enrolments
// @Tags Enrolments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param planId query string false "Filter by plan"
// @Param templateId query string false "Filter by class template"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrolments [get]
func (h *EnrolmentHandler) List(c *gin.Context) {
	var filter models.EnrolmentFilter
	filter.StudentID = c.Query("studentId")
	filter.PlanID = c.Query("planId")
	filter.TemplateID = c.Query("templateId")
	filter.LevelID = c.Query("levelId")
	filter.Status = models.EnrolmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrolments, pagination, err := h.enrolments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrolments, pagination)
}

// Get godoc
// @Summary Get enrolment detail
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Success 200 {object} response.Envelope
// @Router /enrolments/{id} [get]
func (h *EnrolmentHandler) Get(c *gin.Context) {
	detail, err := h.enrolments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create enrolment
// @Tags Enrolments
// @Accept json
// @Produce json
// @Param payload body service.CreateEnrolmentRequest true "Enrolment payload"
// @Success 201 {object} response.Envelope
// @Router /enrolments [post]
func (h *EnrolmentHandler) Create(c *gin.Context) {
	var req service.CreateEnrolmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.enrolments.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// Pause godoc
// @Summary Pause enrolment
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Success 204
// @Router /enrolments/{id}/pause [put]
func (h *EnrolmentHandler) Pause(c *gin.Context) {
	if err := h.enrolments.Pause(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resume godoc
// @Summary Resume enrolment
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Success 204
// @Router /enrolments/{id}/resume [put]
func (h *EnrolmentHandler) Resume(c *gin.Context) {
	if err := h.enrolments.Resume(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type cancelEnrolmentRequest struct {
	EndDate daykey.Key `json:"end_date" binding:"required"`
}

// Cancel godoc
// @Summary Cancel enrolment
// @Tags Enrolments
// @Accept json
// @Produce json
// @Param id path string true "Enrolment ID"
// @Param payload body cancelEnrolmentRequest true "Cancellation payload"
// @Success 204
// @Router /enrolments/{id}/cancel [put]
func (h *EnrolmentHandler) Cancel(c *gin.Context) {
	var req cancelEnrolmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.enrolments.Cancel(c.Request.Context(), c.Param("id"), req.EndDate); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CoveragePreview godoc
// @Summary Preview the next coverage window
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Param quantity query int false "Billing periods to preview"
// @Success 200 {object} response.Envelope
// @Router /enrolments/{id}/coverage [get]
func (h *EnrolmentHandler) CoveragePreview(c *gin.Context) {
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil || quantity < 1 {
		quantity = 1
	}
	coverage, err := h.enrolments.CoveragePreview(c.Request.Context(), c.Param("id"), quantity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, coverage, nil)
}

// Credits godoc
// @Summary Get credit balance and history
// @Tags Enrolments
// @Produce json
// @Param id path string true "Enrolment ID"
// @Success 200 {object} response.Envelope
// @Router /enrolments/{id}/credits [get]
func (h *EnrolmentHandler) Credits(c *gin.Context) {
	id := c.Param("id")
	balance, err := h.ledger.Balance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	history, err := h.ledger.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"balance": balance, "events": history}, nil)
}

// AdjustCredits godoc
// @Summary Manually adjust the credit balance
// @Tags Enrolments
// @Accept json
// @Produce json
// @Param id path string true "Enrolment ID"
// @Param payload body service.ManualAdjustRequest true "Adjustment payload"
// @Success 200 {object} response.Envelope
// @Router /enrolments/{id}/credits [post]
func (h *EnrolmentHandler) AdjustCredits(c *gin.Context) {
	var req service.ManualAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EnrolmentID = c.Param("id")
	balance, err := h.ledger.ManualAdjust(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"balance": balance}, nil)
}

// ChangeLevel godoc
// @Summary Move the enrolment to a new level and plan
// @Tags Enrolments
// @Accept json
// @Produce json
// @Param id path string true "Enrolment ID"
// @Param payload body service.LevelChangeRequest true "Level change payload"
// @Success 200 {object} response.Envelope
// @Router /enrolments/{id}/level-change [post]
func (h *EnrolmentHandler) ChangeLevel(c *gin.Context) {
	var req service.LevelChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EnrolmentID = c.Param("id")
	result, err := h.changes.Change(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
