package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type holidayStore interface {
	FindByID(ctx context.Context, id string) (*models.Holiday, error)
	ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error)
	Create(ctx context.Context, holiday *models.Holiday) error
	Update(ctx context.Context, holiday *models.Holiday) error
	Delete(ctx context.Context, id string) error
	FindCancellation(ctx context.Context, templateID string, date daykey.Key) (*models.ClassCancellation, error)
	CreateCancellationTx(ctx context.Context, tx *sqlx.Tx, cancellation *models.ClassCancellation) error
	MarkCancellationCreditsGrantedTx(ctx context.Context, tx *sqlx.Tx, id string) error
	DeleteCancellation(ctx context.Context, id string) error
}

type sweepTrigger interface {
	EnqueueRange(r models.DateRange) error
}

// HolidayRequest creates or updates a holiday range. Scope is either a
// single template, a level, or neither (global).
type HolidayRequest struct {
	Name       string     `json:"name" validate:"required,max=200"`
	StartDate  daykey.Key `json:"start_date" validate:"required"`
	EndDate    daykey.Key `json:"end_date" validate:"required"`
	TemplateID string     `json:"template_id"`
	LevelID    string     `json:"level_id"`
}

// CancelOccurrenceRequest cancels one class occurrence.
type CancelOccurrenceRequest struct {
	TemplateID string     `json:"template_id" validate:"required"`
	Date       daykey.Key `json:"date" validate:"required"`
	Reason     string     `json:"reason" validate:"max=500"`
}

// CancellationResult reports the cancellation plus credits granted.
type CancellationResult struct {
	Cancellation   models.ClassCancellation `json:"cancellation"`
	CreditsGranted int                      `json:"credits_granted"`
}

// HolidayService administers holidays and single-class cancellations.
// Every mutation enqueues a recompute for the touched range so coverage
// projections catch up in the background.
type HolidayService struct {
	repo       holidayStore
	templates  capacityTemplateReader
	enrolments capacityEnrolmentReader
	ledger     *CreditLedgerService
	sweep      sweepTrigger
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewHolidayService constructs HolidayService.
func NewHolidayService(
	repo holidayStore,
	templates capacityTemplateReader,
	enrolments capacityEnrolmentReader,
	ledger *CreditLedgerService,
	sweep sweepTrigger,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
) *HolidayService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HolidayService{
		repo:       repo,
		templates:  templates,
		enrolments: enrolments,
		ledger:     ledger,
		sweep:      sweep,
		tx:         tx,
		validator:  validate,
		logger:     logger,
	}
}

// ListOverlapping returns holidays intersecting the range.
func (s *HolidayService) ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error) {
	holidays, err := s.repo.ListOverlapping(ctx, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list holidays")
	}
	return holidays, nil
}

// Create declares a holiday and schedules the recompute.
func (s *HolidayService) Create(ctx context.Context, req HolidayRequest) (*models.Holiday, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	holiday := &models.Holiday{
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if req.TemplateID != "" {
		templateID := req.TemplateID
		holiday.TemplateID = &templateID
	} else if req.LevelID != "" {
		levelID := req.LevelID
		holiday.LevelID = &levelID
	}
	if err := s.repo.Create(ctx, holiday); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create holiday")
	}
	s.enqueueSweep(holiday.StartDate, holiday.EndDate)
	s.logger.Info("holiday created", zap.String("holiday_id", holiday.ID), zap.String("name", holiday.Name))
	return holiday, nil
}

// Update modifies a holiday and schedules recomputes for both the old and
// new spans.
func (s *HolidayService) Update(ctx context.Context, id string, req HolidayRequest) (*models.Holiday, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	holiday, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "holiday not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holiday")
	}
	oldStart, oldEnd := holiday.StartDate, holiday.EndDate

	holiday.Name = req.Name
	holiday.StartDate = req.StartDate
	holiday.EndDate = req.EndDate
	holiday.TemplateID = nil
	holiday.LevelID = nil
	if req.TemplateID != "" {
		templateID := req.TemplateID
		holiday.TemplateID = &templateID
	} else if req.LevelID != "" {
		levelID := req.LevelID
		holiday.LevelID = &levelID
	}
	if err := s.repo.Update(ctx, holiday); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update holiday")
	}
	s.enqueueSweep(oldStart, oldEnd)
	s.enqueueSweep(holiday.StartDate, holiday.EndDate)
	return holiday, nil
}

// Delete removes a holiday; affected coverage shrinks back on recompute.
func (s *HolidayService) Delete(ctx context.Context, id string) error {
	holiday, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "holiday not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holiday")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete holiday")
	}
	s.enqueueSweep(holiday.StartDate, holiday.EndDate)
	s.logger.Info("holiday deleted", zap.String("holiday_id", id))
	return nil
}

// CancelOccurrence cancels one class occurrence and grants per-class
// enrolments their compensation credit. The grant is recorded per
// template+date+enrolment, so re-cancelling after an undo never credits
// twice.
func (s *HolidayService) CancelOccurrence(ctx context.Context, req CancelOccurrenceRequest) (*CancellationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	tpl, err := s.templates.FindByID(ctx, req.TemplateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	if tpl.DayOfWeek == nil || req.Date.Weekday() != *tpl.DayOfWeek || !tpl.RunsOn(req.Date) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class does not run on that date")
	}
	if existing, err := s.repo.FindCancellation(ctx, req.TemplateID, req.Date); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "occurrence already cancelled")
	} else if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check cancellations")
	}

	rows, err := s.enrolments.ListActiveByTemplates(ctx, []string{tpl.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolments")
	}

	cancellation := &models.ClassCancellation{
		TemplateID: req.TemplateID,
		Date:       req.Date,
	}
	if req.Reason != "" {
		reason := req.Reason
		cancellation.Reason = &reason
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.CreateCancellationTx(ctx, tx, cancellation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create cancellation")
	}

	grantedTotal := 0
	for _, row := range rows {
		if row.BillingType != models.BillingPerClass || !row.ActiveOn(req.Date) {
			continue
		}
		granted, err := s.ledger.GrantCancellationCreditTx(ctx, tx, row.ID, tpl.ID, req.Date)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant cancellation credit")
		}
		if granted {
			grantedTotal++
		}
	}
	if grantedTotal > 0 {
		if err := s.repo.MarkCancellationCreditsGrantedTx(ctx, tx, cancellation.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark credits granted")
		}
		cancellation.CreditsGranted = true
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cancellation")
	}

	s.enqueueSweep(req.Date, req.Date)
	s.logger.Info("occurrence cancelled",
		zap.String("template_id", req.TemplateID),
		zap.String("date", string(req.Date)),
		zap.Int("credits_granted", grantedTotal))
	return &CancellationResult{Cancellation: *cancellation, CreditsGranted: grantedTotal}, nil
}

// UncancelOccurrence removes a cancellation. Credits already granted stay
// on the ledger; the dedup guard keeps a later re-cancellation from
// granting again.
func (s *HolidayService) UncancelOccurrence(ctx context.Context, templateID string, date daykey.Key) error {
	cancellation, err := s.repo.FindCancellation(ctx, templateID, date)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "cancellation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellation")
	}
	if err := s.repo.DeleteCancellation(ctx, cancellation.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete cancellation")
	}
	s.enqueueSweep(date, date)
	return nil
}

func (s *HolidayService) validateRequest(req HolidayRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid holiday payload")
	}
	if req.EndDate.Before(req.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "holiday end precedes start")
	}
	if req.TemplateID != "" && req.LevelID != "" {
		return appErrors.Clone(appErrors.ErrValidation, "holiday scope is template or level, not both")
	}
	return nil
}

func (s *HolidayService) enqueueSweep(start, end daykey.Key) {
	if s.sweep == nil {
		return
	}
	if err := s.sweep.EnqueueRange(models.DateRange{Start: start, End: end}); err != nil {
		s.logger.Warn("failed to enqueue coverage recompute",
			zap.String("start", string(start)),
			zap.String("end", string(end)),
			zap.Error(err))
	}
}
