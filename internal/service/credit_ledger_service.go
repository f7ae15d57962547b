package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type creditEventLedger interface {
	AppendTx(ctx context.Context, tx *sqlx.Tx, event *models.EnrolmentCreditEvent) error
	SumTx(ctx context.Context, tx *sqlx.Tx, enrolmentID string) (int, error)
	Sum(ctx context.Context, enrolmentID string) (int, error)
	ListByEnrolment(ctx context.Context, enrolmentID string) ([]models.EnrolmentCreditEvent, error)
	CancellationCreditExistsTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string, date daykey.Key) (bool, error)
}

type enrolmentLedgerStore interface {
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error)
	RefreshCreditsCacheTx(ctx context.Context, tx *sqlx.Tx, id string, balance int) error
}

// ManualAdjustRequest is an administrative credit correction.
type ManualAdjustRequest struct {
	EnrolmentID  string `json:"enrolment_id" validate:"required"`
	CreditsDelta int    `json:"credits_delta" validate:"required"`
	Note         string `json:"note" validate:"required,max=500"`
}

// CreditLedgerService owns the append-only credit ledger. Every append
// recomputes the balance from the event sum and refreshes the cached
// column inside the same transaction, so the cache can lag a crashed
// transaction but never diverge from committed history.
type CreditLedgerService struct {
	events     creditEventLedger
	enrolments enrolmentLedgerStore
	tx         txProvider
	metrics    *MetricsService
	loc        *time.Location
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCreditLedgerService constructs CreditLedgerService.
func NewCreditLedgerService(events creditEventLedger, enrolments enrolmentLedgerStore, tx txProvider, metrics *MetricsService, loc *time.Location, validate *validator.Validate, logger *zap.Logger) *CreditLedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CreditLedgerService{events: events, enrolments: enrolments, tx: tx, metrics: metrics, loc: loc, validator: validate, logger: logger}
}

// Balance returns the committed credit balance for an enrolment.
func (s *CreditLedgerService) Balance(ctx context.Context, enrolmentID string) (int, error) {
	balance, err := s.events.Sum(ctx, enrolmentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credit events")
	}
	return balance, nil
}

// History returns the full ledger for an enrolment, newest first.
func (s *CreditLedgerService) History(ctx context.Context, enrolmentID string) ([]models.EnrolmentCreditEvent, error) {
	events, err := s.events.ListByEnrolment(ctx, enrolmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credit events")
	}
	return events, nil
}

// RecordTx appends one event and refreshes the cached balance in the same
// transaction. It returns the new balance.
func (s *CreditLedgerService) RecordTx(ctx context.Context, tx *sqlx.Tx, event *models.EnrolmentCreditEvent) (int, error) {
	if event.OccurredOn.IsZero() {
		event.OccurredOn = daykey.FromTime(time.Now(), s.loc)
	}
	if err := s.events.AppendTx(ctx, tx, event); err != nil {
		return 0, fmt.Errorf("append credit event: %w", err)
	}
	balance, err := s.events.SumTx(ctx, tx, event.EnrolmentID)
	if err != nil {
		return 0, fmt.Errorf("sum credit events: %w", err)
	}
	if err := s.enrolments.RefreshCreditsCacheTx(ctx, tx, event.EnrolmentID, balance); err != nil {
		return 0, fmt.Errorf("refresh credits cache: %w", err)
	}
	s.metrics.RecordCreditEvent(string(event.Type))
	return balance, nil
}

// GrantCancellationCreditTx grants the one credit a cancelled occurrence
// owes an enrolment. It reports false without writing when the same
// template+date pair has already been credited.
func (s *CreditLedgerService) GrantCancellationCreditTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string, date daykey.Key) (bool, error) {
	exists, err := s.events.CancellationCreditExistsTx(ctx, tx, enrolmentID, templateID, date)
	if err != nil {
		return false, fmt.Errorf("check cancellation credit: %w", err)
	}
	if exists {
		return false, nil
	}
	_, err = s.RecordTx(ctx, tx, &models.EnrolmentCreditEvent{
		EnrolmentID:  enrolmentID,
		Type:         models.CreditEventCancellationCredit,
		CreditsDelta: 1,
		OccurredOn:   date,
		TemplateID:   &templateID,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ManualAdjust applies an administrative correction with an audit note.
func (s *CreditLedgerService) ManualAdjust(ctx context.Context, req ManualAdjustRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credit adjustment payload")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	enrolment, err := s.enrolments.FindByIDForUpdateTx(ctx, tx, req.EnrolmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}

	note := req.Note
	balance, err := s.RecordTx(ctx, tx, &models.EnrolmentCreditEvent{
		EnrolmentID:  enrolment.ID,
		Type:         models.CreditEventManualAdjust,
		CreditsDelta: req.CreditsDelta,
		Note:         &note,
	})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record credit adjustment")
	}
	if err := tx.Commit(); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit credit adjustment")
	}

	s.logger.Info("manual credit adjustment",
		zap.String("enrolment_id", enrolment.ID),
		zap.Int("delta", req.CreditsDelta),
		zap.Int("balance", balance))
	return balance, nil
}
