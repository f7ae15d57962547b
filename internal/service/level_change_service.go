package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type changeoverEnrolmentStore interface {
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrolment *models.Enrolment) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrolmentStatus, endDate *daykey.Key) error
}

type changeoverTemplateStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.ClassTemplate, error)
	AssignTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string) error
}

// LevelChangeRequest moves a student to a new level: new plan, new class
// slots, effective on a given date.
type LevelChangeRequest struct {
	EnrolmentID    string     `json:"enrolment_id" validate:"required"`
	NewPlanID      string     `json:"new_plan_id" validate:"required"`
	NewTemplateIDs []string   `json:"new_template_ids" validate:"required,min=1"`
	NewLevelID     string     `json:"new_level_id"`
	EffectiveDate  daykey.Key `json:"effective_date" validate:"required"`
}

// LevelChangeResult reports both sides of a changeover.
type LevelChangeResult struct {
	OldEnrolmentID     string          `json:"old_enrolment_id"`
	NewEnrolmentID     string          `json:"new_enrolment_id"`
	CreditsTransferred int             `json:"credits_transferred"`
	ProratedDifference decimal.Decimal `json:"prorated_difference"`
}

// LevelChangeService executes plan and level changeovers. Plans are
// immutable once invoiced against, so a change means closing the old
// enrolment and opening a new one; remaining credits move across the
// ledger as a paired adjustment, never by editing history.
type LevelChangeService struct {
	enrolments changeoverEnrolmentStore
	templates  changeoverTemplateStore
	plans      invoicePlanReader
	events     creditEventLedger
	ledger     *CreditLedgerService
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewLevelChangeService constructs LevelChangeService.
func NewLevelChangeService(
	enrolments changeoverEnrolmentStore,
	templates changeoverTemplateStore,
	plans invoicePlanReader,
	events creditEventLedger,
	ledger *CreditLedgerService,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
) *LevelChangeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelChangeService{
		enrolments: enrolments,
		templates:  templates,
		plans:      plans,
		events:     events,
		ledger:     ledger,
		tx:         tx,
		validator:  validate,
		logger:     logger,
	}
}

// Change executes the changeover atomically.
func (s *LevelChangeService) Change(ctx context.Context, req LevelChangeRequest) (*LevelChangeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level change payload")
	}

	newPlan, err := s.plans.FindByID(ctx, req.NewPlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "new plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load new plan")
	}
	if !newPlan.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "new plan is inactive")
	}
	newTemplates, err := s.templates.ListByIDs(ctx, req.NewTemplateIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	if len(newTemplates) != len(req.NewTemplateIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more class templates not found")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	old, err := s.enrolments.FindByIDForUpdateTx(ctx, tx, req.EnrolmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if old.Status == models.EnrolmentStatusCancelled || old.Status == models.EnrolmentStatusChangeover {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("enrolment is %s", old.Status))
	}
	if req.EffectiveDate.Before(old.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "effective date precedes enrolment start")
	}

	oldPlan, err := s.plans.FindByID(ctx, old.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load old plan")
	}

	// Close the old enrolment the day before the changeover.
	oldEnd := req.EffectiveDate.AddDays(-1)
	if err := s.enrolments.UpdateStatusTx(ctx, tx, old.ID, models.EnrolmentStatusChangeover, &oldEnd); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close old enrolment")
	}

	next := &models.Enrolment{
		StudentID:     old.StudentID,
		PlanID:        newPlan.ID,
		StartDate:     req.EffectiveDate,
		Status:        models.EnrolmentStatusActive,
		BillingStatus: models.BillingStatusUnbilled,
	}
	if req.NewLevelID != "" {
		levelID := req.NewLevelID
		next.LevelID = &levelID
	} else {
		next.LevelID = old.LevelID
	}
	if err := s.enrolments.CreateTx(ctx, tx, next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create new enrolment")
	}
	for _, tpl := range newTemplates {
		if err := s.templates.AssignTx(ctx, tx, next.ID, tpl.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign template")
		}
	}

	transferred, err := s.transferCreditsTx(ctx, tx, old.ID, next.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit level change")
	}

	result := &LevelChangeResult{
		OldEnrolmentID:     old.ID,
		NewEnrolmentID:     next.ID,
		CreditsTransferred: transferred,
		ProratedDifference: prorateDifference(oldPlan, newPlan, transferred),
	}
	s.logger.Info("level change executed",
		zap.String("old_enrolment_id", old.ID),
		zap.String("new_enrolment_id", next.ID),
		zap.Int("credits_transferred", transferred),
		zap.String("prorated_difference", result.ProratedDifference.String()))
	return result, nil
}

// transferCreditsTx moves the old enrolment's remaining balance onto the
// new one as paired adjustments.
func (s *LevelChangeService) transferCreditsTx(ctx context.Context, tx *sqlx.Tx, oldID, newID string) (int, error) {
	balance, err := s.events.SumTx(ctx, tx, oldID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read credit balance")
	}
	if balance <= 0 {
		return 0, nil
	}
	outNote := fmt.Sprintf("credit transfer to enrolment %s", newID)
	if _, err := s.ledger.RecordTx(ctx, tx, &models.EnrolmentCreditEvent{
		EnrolmentID:  oldID,
		Type:         models.CreditEventManualAdjust,
		CreditsDelta: -balance,
		Note:         &outNote,
	}); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to debit old enrolment")
	}
	inNote := fmt.Sprintf("credit transfer from enrolment %s", oldID)
	if _, err := s.ledger.RecordTx(ctx, tx, &models.EnrolmentCreditEvent{
		EnrolmentID:  newID,
		Type:         models.CreditEventManualAdjust,
		CreditsDelta: balance,
		Note:         &inNote,
	}); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to credit new enrolment")
	}
	return balance, nil
}

// prorateDifference prices transferred credits at the new plan's per-class
// rate versus the old one's: positive means the family owes a top-up,
// negative a goodwill credit. Money stays in decimals end to end.
func prorateDifference(oldPlan, newPlan *models.EnrolmentPlan, transferred int) decimal.Decimal {
	if transferred <= 0 {
		return decimal.Zero
	}
	oldRate := perClassRate(oldPlan)
	newRate := perClassRate(newPlan)
	if oldRate.IsZero() && newRate.IsZero() {
		return decimal.Zero
	}
	return newRate.Sub(oldRate).Mul(decimal.NewFromInt(int64(transferred))).Round(2)
}

func perClassRate(plan *models.EnrolmentPlan) decimal.Decimal {
	switch {
	case plan.IsBlock() && plan.BlockClassCount > 0:
		return plan.Price.Div(decimal.NewFromInt(int64(plan.BlockClassCount)))
	case plan.IsWeekly() && plan.DurationWeeks > 0 && plan.SessionsPerWeek > 0:
		sessions := int64(plan.DurationWeeks * plan.SessionsPerWeek)
		return plan.Price.Div(decimal.NewFromInt(sessions))
	default:
		return decimal.Zero
	}
}
