package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanekeeper/swim-ops-api/internal/service"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/response"
)

// InvoiceHandler exposes invoicing and entitlement endpoints.
type InvoiceHandler struct {
	invoices *service.InvoiceService
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(invoices *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

// Get godoc
// @Summary Get invoice with lines
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	detail, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Preview godoc
// @Summary Preview coverage an invoice would grant
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body service.IssueInvoiceRequest true "Invoice payload"
// @Success 200 {object} response.Envelope
// @Router /invoices/preview [post]
func (h *InvoiceHandler) Preview(c *gin.Context) {
	var req service.IssueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	preview, err := h.invoices.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Issue godoc
// @Summary Issue an invoice for upcoming coverage
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body service.IssueInvoiceRequest true "Invoice payload"
// @Success 201 {object} response.Envelope
// @Router /invoices [post]
func (h *InvoiceHandler) Issue(c *gin.Context) {
	var req service.IssueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.invoices.Issue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// MarkPaid godoc
// @Summary Mark an invoice paid and apply entitlements
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/paid [post]
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	result, err := h.invoices.HandlePaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
