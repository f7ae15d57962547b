package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type invoiceStore interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	Lines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, invoice *models.Invoice, lines []models.InvoiceLine) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
}

type invoiceEnrolmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrolment, error)
}

type invoicePlanReader interface {
	FindByID(ctx context.Context, id string) (*models.EnrolmentPlan, error)
}

type invoiceTemplateReader interface {
	ListForEnrolment(ctx context.Context, enrolmentID string) ([]models.ClassTemplate, error)
}

type invoiceCalendarReader interface {
	ListFrom(ctx context.Context, start daykey.Key) ([]models.Holiday, error)
	ListCancellationsByTemplates(ctx context.Context, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error)
}

// IssueInvoiceRequest creates an invoice for one enrolment.
type IssueInvoiceRequest struct {
	EnrolmentID string `json:"enrolment_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"min=1"`

	// CustomBlockLength optionally sells a longer block than the plan's
	// default. Never shorter.
	CustomBlockLength int `json:"custom_block_length" validate:"min=0"`
}

// InvoicePreview is what issuing would grant, without writing anything.
type InvoicePreview struct {
	EnrolmentID string                `json:"enrolment_id"`
	PlanID      string                `json:"plan_id"`
	Quantity    int                   `json:"quantity"`
	Coverage    models.CoverageResult `json:"coverage"`
	Total       decimal.Decimal       `json:"total"`
}

// InvoiceDetail is an invoice with its lines.
type InvoiceDetail struct {
	models.Invoice
	Lines []models.InvoiceLine `json:"lines"`
}

// InvoiceService issues invoices and handles the paid webhook. Issuing
// resolves what the payment will buy (coverage preview, total) but grants
// nothing: entitlements move only when the payment oracle reports PAID.
type InvoiceService struct {
	invoices   invoiceStore
	enrolments invoiceEnrolmentReader
	plans      invoicePlanReader
	templates  invoiceTemplateReader
	calendar   invoiceCalendarReader
	applier    *EntitlementService
	resolver   *CoverageResolver
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewInvoiceService constructs InvoiceService.
func NewInvoiceService(
	invoices invoiceStore,
	enrolments invoiceEnrolmentReader,
	plans invoicePlanReader,
	templates invoiceTemplateReader,
	calendar invoiceCalendarReader,
	applier *EntitlementService,
	resolver *CoverageResolver,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
) *InvoiceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoices:   invoices,
		enrolments: enrolments,
		plans:      plans,
		templates:  templates,
		calendar:   calendar,
		applier:    applier,
		resolver:   resolver,
		tx:         tx,
		validator:  validate,
		logger:     logger,
	}
}

// Get returns an invoice with its lines.
func (s *InvoiceService) Get(ctx context.Context, id string) (*InvoiceDetail, error) {
	invoice, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	lines, err := s.invoices.Lines(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice lines")
	}
	return &InvoiceDetail{Invoice: *invoice, Lines: lines}, nil
}

// Preview resolves what an invoice would buy without creating it.
func (s *InvoiceService) Preview(ctx context.Context, req IssueInvoiceRequest) (*InvoicePreview, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invoice request")
	}
	in, plan, err := s.coverageInput(ctx, req)
	if err != nil {
		return nil, err
	}
	coverage, err := s.resolver.ResolveCoverageForPlan(in, req.Quantity, 0)
	if err != nil {
		return nil, err
	}
	return &InvoicePreview{
		EnrolmentID: req.EnrolmentID,
		PlanID:      plan.ID,
		Quantity:    req.Quantity,
		Coverage:    coverage,
		Total:       plan.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
	}, nil
}

// Issue creates a SENT invoice for the enrolment. The resolved coverage is
// stamped onto the invoice for display; nothing is granted until payment.
func (s *InvoiceService) Issue(ctx context.Context, req IssueInvoiceRequest) (*InvoiceDetail, error) {
	preview, err := s.Preview(ctx, req)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.FindByID(ctx, preview.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if plan.IsWeekly() && preview.Coverage.Window.Collapsed() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			"enrolment has no coverable occurrences left, nothing to invoice")
	}

	// The stamped coverage end is the nominal window end; the applier
	// consumes it verbatim as the new paid-through date at payment.
	invoice := &models.Invoice{
		Number:        newInvoiceNumber(),
		Status:        models.InvoiceStatusSent,
		CoverageStart: preview.Coverage.Window.Start,
		CoverageEnd:   preview.Coverage.Window.EndBase,
		Total:         preview.Total,
	}
	enrolmentID := req.EnrolmentID
	planID := plan.ID
	lines := []models.InvoiceLine{{
		Kind:        models.LineKindEnrolment,
		EnrolmentID: &enrolmentID,
		PlanID:      &planID,
		Description: plan.Name,
		Quantity:    req.Quantity,
		Amount:      preview.Total,
	}}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.invoices.CreateTx(ctx, tx, invoice, lines); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invoice")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit invoice")
	}

	s.logger.Info("invoice issued",
		zap.String("invoice_id", invoice.ID),
		zap.String("enrolment_id", req.EnrolmentID),
		zap.String("total", preview.Total.String()))
	return &InvoiceDetail{Invoice: *invoice, Lines: lines}, nil
}

// HandlePaid is the webhook path: mark the invoice paid and apply its
// entitlements. Re-delivered webhooks are safe; the applier is a no-op on
// an already-applied invoice.
func (s *InvoiceService) HandlePaid(ctx context.Context, invoiceID string) (*EntitlementResult, error) {
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	if invoice.Status == models.InvoiceStatusVoid {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "void invoices cannot be paid")
	}
	if invoice.Status != models.InvoiceStatusPaid {
		if err := s.invoices.MarkPaid(ctx, invoiceID, time.Now().UTC()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark invoice paid")
		}
	}
	return s.applier.ApplyPaidInvoice(ctx, invoiceID)
}

func (s *InvoiceService) coverageInput(ctx context.Context, req IssueInvoiceRequest) (CoverageInput, *models.EnrolmentPlan, error) {
	enrolment, err := s.enrolments.FindByID(ctx, req.EnrolmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return CoverageInput{}, nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return CoverageInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment.Status == models.EnrolmentStatusCancelled {
		return CoverageInput{}, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrolment is cancelled")
	}
	plan, err := s.plans.FindByID(ctx, enrolment.PlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return CoverageInput{}, nil, appErrors.Clone(appErrors.ErrConfiguration, "enrolment plan no longer exists")
		}
		return CoverageInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	templates, err := s.templates.ListForEnrolment(ctx, enrolment.ID)
	if err != nil {
		return CoverageInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	holidays, err := s.calendar.ListFrom(ctx, enrolment.StartDate)
	if err != nil {
		return CoverageInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}
	var cancellations []models.ClassCancellation
	if len(ids) > 0 {
		cancellations, err = s.calendar.ListCancellationsByTemplates(ctx, ids, enrolment.StartDate)
		if err != nil {
			return CoverageInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellations")
		}
	}
	return CoverageInput{
		Enrolment:         *enrolment,
		Plan:              *plan,
		Templates:         templates,
		Holidays:          holidays,
		Cancellations:     cancellations,
		CustomBlockLength: req.CustomBlockLength,
	}, plan, nil
}

func newInvoiceNumber() string {
	return fmt.Sprintf("INV-%s", time.Now().UTC().Format("20060102-150405.000"))
}
