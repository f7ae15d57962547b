package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type enrolmentStore interface {
	List(ctx context.Context, filter models.EnrolmentFilter) ([]models.EnrolmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrolment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrolmentDetail, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrolment *models.Enrolment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrolmentStatus, endDate *daykey.Key) error
}

type enrolmentTemplateStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.ClassTemplate, error)
	ListForEnrolment(ctx context.Context, enrolmentID string) ([]models.ClassTemplate, error)
	AssignTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string) error
}

// CreateEnrolmentRequest registers a student into class slots under a plan.
type CreateEnrolmentRequest struct {
	StudentID   string     `json:"student_id" validate:"required"`
	PlanID      string     `json:"plan_id" validate:"required"`
	TemplateIDs []string   `json:"template_ids" validate:"required,min=1"`
	StartDate   daykey.Key `json:"start_date" validate:"required"`
	LevelID     string     `json:"level_id"`
}

// EnrolmentService manages the enrolment lifecycle.
type EnrolmentService struct {
	repo      enrolmentStore
	templates enrolmentTemplateStore
	plans     invoicePlanReader
	calendar  invoiceCalendarReader
	resolver  *CoverageResolver
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrolmentService constructs EnrolmentService.
func NewEnrolmentService(
	repo enrolmentStore,
	templates enrolmentTemplateStore,
	plans invoicePlanReader,
	calendar invoiceCalendarReader,
	resolver *CoverageResolver,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrolmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrolmentService{
		repo:      repo,
		templates: templates,
		plans:     plans,
		calendar:  calendar,
		resolver:  resolver,
		tx:        tx,
		validator: validate,
		logger:    logger,
	}
}

// List returns enrolments with pagination metadata.
func (s *EnrolmentService) List(ctx context.Context, filter models.EnrolmentFilter) ([]models.EnrolmentDetail, *models.Pagination, error) {
	enrolments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrolments, pagination, nil
}

// Get returns one enrolment with its plan and assigned templates.
func (s *EnrolmentService) Get(ctx context.Context, id string) (*models.EnrolmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	templates, err := s.templates.ListForEnrolment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	detail.Templates = templates
	return detail, nil
}

// Create registers an enrolment and assigns its class slots atomically.
func (s *EnrolmentService) Create(ctx context.Context, req CreateEnrolmentRequest) (*models.EnrolmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrolment payload")
	}
	plan, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan is inactive")
	}
	templates, err := s.templates.ListByIDs(ctx, req.TemplateIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	if len(templates) != len(req.TemplateIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more class templates not found")
	}
	if plan.IsWeekly() {
		weekly := 0
		for _, tpl := range templates {
			if tpl.DayOfWeek != nil {
				weekly++
			}
		}
		if weekly < plan.SessionsPerWeek {
			return nil, appErrors.Clone(appErrors.ErrConfiguration,
				fmt.Sprintf("plan needs %d weekly slots, %d assigned", plan.SessionsPerWeek, weekly))
		}
	}

	enrolment := &models.Enrolment{
		StudentID:     req.StudentID,
		PlanID:        plan.ID,
		StartDate:     req.StartDate,
		Status:        models.EnrolmentStatusActive,
		BillingStatus: models.BillingStatusUnbilled,
	}
	if req.LevelID != "" {
		levelID := req.LevelID
		enrolment.LevelID = &levelID
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.CreateTx(ctx, tx, enrolment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrolment")
	}
	for _, tpl := range templates {
		if err := s.templates.AssignTx(ctx, tx, enrolment.ID, tpl.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign template")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrolment")
	}

	s.logger.Info("enrolment created",
		zap.String("enrolment_id", enrolment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("plan_id", plan.ID))
	return s.Get(ctx, enrolment.ID)
}

// Pause suspends an active enrolment.
func (s *EnrolmentService) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.EnrolmentStatusActive, models.EnrolmentStatusPaused, nil)
}

// Resume reactivates a paused enrolment.
func (s *EnrolmentService) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.EnrolmentStatusPaused, models.EnrolmentStatusActive, nil)
}

// Cancel ends an enrolment as of the given date.
func (s *EnrolmentService) Cancel(ctx context.Context, id string, endDate daykey.Key) error {
	enrolment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment.Status == models.EnrolmentStatusCancelled {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrolment already cancelled")
	}
	if endDate.Before(enrolment.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "cancellation date precedes enrolment start")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrolmentStatusCancelled, &endDate); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrolment")
	}
	s.logger.Info("enrolment cancelled", zap.String("enrolment_id", id), zap.String("end_date", string(endDate)))
	return nil
}

// CoveragePreview resolves the next coverage window for the enrolment
// without writing anything.
func (s *EnrolmentService) CoveragePreview(ctx context.Context, id string, quantity int) (*models.CoverageResult, error) {
	enrolment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	plan, err := s.plans.FindByID(ctx, enrolment.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	templates, err := s.templates.ListForEnrolment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}
	holidays, err := s.calendar.ListFrom(ctx, enrolment.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}
	var cancellations []models.ClassCancellation
	if len(ids) > 0 {
		cancellations, err = s.calendar.ListCancellationsByTemplates(ctx, ids, enrolment.StartDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellations")
		}
	}
	coverage, err := s.resolver.ResolveCoverageForPlan(CoverageInput{
		Enrolment:     *enrolment,
		Plan:          *plan,
		Templates:     templates,
		Holidays:      holidays,
		Cancellations: cancellations,
	}, quantity, 0)
	if err != nil {
		return nil, err
	}
	return &coverage, nil
}

func (s *EnrolmentService) transition(ctx context.Context, id string, from, to models.EnrolmentStatus, endDate *daykey.Key) error {
	enrolment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment.Status != from {
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("enrolment is %s, expected %s", enrolment.Status, from))
	}
	if err := s.repo.UpdateStatus(ctx, id, to, endDate); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrolment status")
	}
	return nil
}
