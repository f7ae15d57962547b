package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type invoiceEntitlementStore interface {
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Invoice, error)
	LinesTx(ctx context.Context, tx *sqlx.Tx, invoiceID string) ([]models.InvoiceLine, error)
	StampAppliedTx(ctx context.Context, tx *sqlx.Tx, id string, appliedAt time.Time) error
	UpdateCreditsPurchasedTx(ctx context.Context, tx *sqlx.Tx, id string, credits int) error
}

type enrolmentEntitlementStore interface {
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error)
	UpdateCoverageTx(ctx context.Context, tx *sqlx.Tx, id string, paidThrough, paidThroughComputed *daykey.Key, billing models.BillingStatus) error
}

type entitlementPlanReader interface {
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrolmentPlan, error)
}

type entitlementTemplateReader interface {
	ListForEnrolmentTx(ctx context.Context, tx *sqlx.Tx, enrolmentID string) ([]models.ClassTemplate, error)
}

type entitlementCalendarReader interface {
	ListFromTx(ctx context.Context, tx *sqlx.Tx, start daykey.Key) ([]models.Holiday, error)
	ListCancellationsByTemplatesTx(ctx context.Context, tx *sqlx.Tx, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error)
}

type entitlementPurchaseReader interface {
	PurchaseTotalForInvoiceTx(ctx context.Context, tx *sqlx.Tx, invoiceID string) (int, error)
}

// EnrolmentEntitlement reports what one invoice line granted.
type EnrolmentEntitlement struct {
	EnrolmentID    string                `json:"enrolment_id"`
	Window         models.CoverageWindow `json:"window"`
	CreditsGranted int                   `json:"credits_granted"`
	Balance        int                   `json:"balance,omitempty"`
}

// EntitlementResult summarises one applier run.
type EntitlementResult struct {
	InvoiceID      string                 `json:"invoice_id"`
	AlreadyApplied bool                   `json:"already_applied"`
	Enrolments     []EnrolmentEntitlement `json:"enrolments"`
}

// EntitlementService turns a paid invoice into coverage and credits,
// exactly once. The applied stamp on the invoice is the idempotency
// barrier: everything it implies (paid-through moves, PURCHASE events) is
// written in the same transaction as the stamp, so a crashed run leaves no
// partial grant and a retried webhook is a clean no-op.
type EntitlementService struct {
	invoices   invoiceEntitlementStore
	enrolments enrolmentEntitlementStore
	plans      entitlementPlanReader
	templates  entitlementTemplateReader
	calendar   entitlementCalendarReader
	purchases  entitlementPurchaseReader
	ledger     *CreditLedgerService
	resolver   *CoverageResolver
	tx         txProvider
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewEntitlementService constructs EntitlementService.
func NewEntitlementService(
	invoices invoiceEntitlementStore,
	enrolments enrolmentEntitlementStore,
	plans entitlementPlanReader,
	templates entitlementTemplateReader,
	calendar entitlementCalendarReader,
	purchases entitlementPurchaseReader,
	ledger *CreditLedgerService,
	resolver *CoverageResolver,
	tx txProvider,
	metrics *MetricsService,
	logger *zap.Logger,
) *EntitlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitlementService{
		invoices:   invoices,
		enrolments: enrolments,
		plans:      plans,
		templates:  templates,
		calendar:   calendar,
		purchases:  purchases,
		ledger:     ledger,
		resolver:   resolver,
		tx:         tx,
		metrics:    metrics,
		logger:     logger,
	}
}

// ApplyPaidInvoice grants the entitlements a paid invoice purchases.
func (s *EntitlementService) ApplyPaidInvoice(ctx context.Context, invoiceID string) (*EntitlementResult, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	invoice, err := s.invoices.FindByIDForUpdateTx(ctx, tx, invoiceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	if invoice.Applied() {
		s.metrics.RecordEntitlementApplication("noop")
		return &EntitlementResult{InvoiceID: invoice.ID, AlreadyApplied: true}, nil
	}
	if invoice.Status != models.InvoiceStatusPaid {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("invoice %s is %s, only paid invoices grant entitlements", invoice.ID, invoice.Status))
	}

	lines, err := s.invoices.LinesTx(ctx, tx, invoice.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice lines")
	}

	result := &EntitlementResult{InvoiceID: invoice.ID}
	for _, line := range lines {
		if line.Kind != models.LineKindEnrolment || line.EnrolmentID == nil {
			continue
		}
		granted, err := s.applyLine(ctx, tx, invoice, line)
		if err != nil {
			s.metrics.RecordEntitlementApplication("error")
			return nil, err
		}
		result.Enrolments = append(result.Enrolments, *granted)
	}

	if err := s.invoices.StampAppliedTx(ctx, tx, invoice.ID, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stamp invoice")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit entitlements")
	}

	s.metrics.RecordEntitlementApplication("applied")
	s.logger.Info("entitlements applied",
		zap.String("invoice_id", invoice.ID),
		zap.Int("enrolment_lines", len(result.Enrolments)))
	return result, nil
}

func (s *EntitlementService) applyLine(ctx context.Context, tx *sqlx.Tx, invoice *models.Invoice, line models.InvoiceLine) (*EnrolmentEntitlement, error) {
	enrolment, err := s.enrolments.FindByIDForUpdateTx(ctx, tx, *line.EnrolmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment.Status == models.EnrolmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("enrolment %s is cancelled", enrolment.ID))
	}
	if line.PlanID == nil || *line.PlanID != enrolment.PlanID {
		return nil, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("invoice line plan does not match enrolment %s plan %s", enrolment.ID, enrolment.PlanID))
	}
	plan, err := s.plans.FindByIDTx(ctx, tx, enrolment.PlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConfiguration, "enrolment plan no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}

	in, err := s.coverageInputTx(ctx, tx, *enrolment, *plan)
	if err != nil {
		return nil, err
	}

	granted := &EnrolmentEntitlement{EnrolmentID: enrolment.ID}

	if plan.IsWeekly() {
		// The invoice sold a specific window, stamped at issuance. An
		// invoice paid weeks later still advances coverage to exactly
		// that window, never to one re-derived from today.
		if invoice.CoverageEnd == nil {
			return nil, appErrors.Clone(appErrors.ErrConfiguration,
				fmt.Sprintf("invoice %s has no stamped coverage window", invoice.ID))
		}
		in.Enrolment.PaidThroughDate = invoice.CoverageEnd
		computed := s.resolver.ProjectComputedEnd(in)
		if err := s.enrolments.UpdateCoverageTx(ctx, tx, enrolment.ID, invoice.CoverageEnd, computed, models.BillingStatusCovered); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance coverage")
		}
		granted.Window = models.CoverageWindow{Start: invoice.CoverageStart, End: computed, EndBase: invoice.CoverageEnd}
		return granted, nil
	}

	already, err := s.purchases.PurchaseTotalForInvoiceTx(ctx, tx, invoice.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prior purchases")
	}

	coverage, err := s.resolver.ResolveCoverageForPlan(in, line.Quantity, already)
	if err != nil {
		return nil, err
	}
	granted.Window = coverage.Window

	if plan.IsBlock() && !coverage.Window.Collapsed() {
		// Block coverage is a count of classes, so the window is
		// re-derived from the enrolment's current paid-through and the
		// nominal end becomes the new authoritative date.
		in.Enrolment.PaidThroughDate = coverage.Window.EndBase
		computed := s.resolver.ProjectComputedEnd(in)
		if err := s.enrolments.UpdateCoverageTx(ctx, tx, enrolment.ID, coverage.Window.EndBase, computed, models.BillingStatusCovered); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance coverage")
		}
	}

	if delta := coverage.CreditsPurchased - already; delta > 0 {
		invoiceID := invoice.ID
		balance, err := s.ledger.RecordTx(ctx, tx, &models.EnrolmentCreditEvent{
			EnrolmentID:  enrolment.ID,
			Type:         models.CreditEventPurchase,
			CreditsDelta: delta,
			InvoiceID:    &invoiceID,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant purchased credits")
		}
		if err := s.invoices.UpdateCreditsPurchasedTx(ctx, tx, invoice.ID, coverage.CreditsPurchased); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record purchased credits")
		}
		granted.CreditsGranted = delta
		granted.Balance = balance
	}

	return granted, nil
}

// coverageInputTx assembles the resolver input inside the applier's
// transaction so the window reflects exactly what is committed.
func (s *EntitlementService) coverageInputTx(ctx context.Context, tx *sqlx.Tx, enrolment models.Enrolment, plan models.EnrolmentPlan) (CoverageInput, error) {
	templates, err := s.templates.ListForEnrolmentTx(ctx, tx, enrolment.ID)
	if err != nil {
		return CoverageInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	holidays, err := s.calendar.ListFromTx(ctx, tx, enrolment.StartDate)
	if err != nil {
		return CoverageInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}
	var cancellations []models.ClassCancellation
	if len(ids) > 0 {
		cancellations, err = s.calendar.ListCancellationsByTemplatesTx(ctx, tx, ids, enrolment.StartDate)
		if err != nil {
			return CoverageInput{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellations")
		}
	}
	return CoverageInput{
		Enrolment:     enrolment,
		Plan:          plan,
		Templates:     templates,
		Holidays:      holidays,
		Cancellations: cancellations,
	}, nil
}
