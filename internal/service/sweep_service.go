package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
	"github.com/lanekeeper/swim-ops-api/pkg/jobs"
)

const sweepStateName = "coverage_recompute"

type sweepEnrolmentStore interface {
	ListAffectedBySweep(ctx context.Context, weekdays []int, rangeStart, rangeEnd daykey.Key) ([]string, error)
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error)
	UpdateComputedCoverageTx(ctx context.Context, tx *sqlx.Tx, id string, paidThroughComputed *daykey.Key) error
}

type sweepThrottle interface {
	TryAcquire(ctx context.Context, name string, interval time.Duration, now time.Time) (bool, error)
	Ensure(ctx context.Context, name string) error
}

// SweepConfig bounds a sweep run.
type SweepConfig struct {
	BatchSize int
	Interval  time.Duration
}

// SweepService recomputes the holiday-adjusted paid-through projection for
// every enrolment whose schedule intersects a changed date range. Holiday
// and cancellation mutations enqueue ranges; the periodic run catches
// anything that slipped through.
//
// Work happens in small batches, one transaction per batch, so a failure
// mid-sweep loses at most one batch and the next run picks it up again:
// the projection is a pure function of current state, re-running it is
// always safe.
type SweepService struct {
	enrolments sweepEnrolmentStore
	plans      entitlementPlanReader
	templates  entitlementTemplateReader
	calendar   entitlementCalendarReader
	throttle   sweepThrottle
	resolver   *CoverageResolver
	tx         txProvider
	metrics    *MetricsService
	loc        *time.Location
	cfg        SweepConfig
	logger     *zap.Logger

	queue *jobs.Queue
}

// NewSweepService constructs SweepService.
func NewSweepService(
	enrolments sweepEnrolmentStore,
	plans entitlementPlanReader,
	templates entitlementTemplateReader,
	calendar entitlementCalendarReader,
	throttle sweepThrottle,
	resolver *CoverageResolver,
	tx txProvider,
	metrics *MetricsService,
	loc *time.Location,
	cfg SweepConfig,
	logger *zap.Logger,
	queueCfg jobs.QueueConfig,
) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	s := &SweepService{
		enrolments: enrolments,
		plans:      plans,
		templates:  templates,
		calendar:   calendar,
		throttle:   throttle,
		resolver:   resolver,
		tx:         tx,
		metrics:    metrics,
		loc:        loc,
		cfg:        cfg,
		logger:     logger,
	}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	s.queue = jobs.NewQueue("coverage-sweep", s.handleJob, queueCfg)
	return s
}

// Start brings up the background workers and the throttle state row.
func (s *SweepService) Start(ctx context.Context) error {
	if s.throttle != nil {
		if err := s.throttle.Ensure(ctx, sweepStateName); err != nil {
			return err
		}
	}
	s.queue.Start(ctx)
	return nil
}

// Stop drains the background workers.
func (s *SweepService) Stop() {
	s.queue.Stop()
}

// EnqueueRange schedules a recompute for enrolments whose schedule touches
// the given range. Called after every holiday or cancellation mutation.
func (s *SweepService) EnqueueRange(r models.DateRange) error {
	return s.queue.Enqueue(jobs.Job{
		Type:    "recompute_range",
		Payload: r,
	})
}

func (s *SweepService) handleJob(ctx context.Context, job jobs.Job) error {
	r, ok := job.Payload.(models.DateRange)
	if !ok {
		s.logger.Error("sweep job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	report, err := s.RecomputeRange(ctx, r)
	if err != nil {
		return err
	}
	s.metrics.RecordSweep("mutation", report.Recomputed)
	return nil
}

// MaybeRunPeriodic runs the periodic catch-up sweep if the throttle
// interval has elapsed. The throttle is a compare-and-swap on a single
// state row, so only one instance in a fleet wins each interval.
func (s *SweepService) MaybeRunPeriodic(ctx context.Context, horizon models.DateRange) (*models.SweepReport, error) {
	acquired, err := s.throttle.TryAcquire(ctx, sweepStateName, s.cfg.Interval, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire sweep throttle")
	}
	if !acquired {
		return nil, nil
	}
	report, err := s.RecomputeRange(ctx, horizon)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSweep("periodic", report.Recomputed)
	return report, nil
}

// RecomputeRange finds every enrolment whose weekly schedule intersects
// the range and refreshes its computed paid-through projection.
func (s *SweepService) RecomputeRange(ctx context.Context, r models.DateRange) (*models.SweepReport, error) {
	weekdaySet := r.Weekdays()
	weekdays := make([]int, 0, len(weekdaySet))
	for wd := range weekdaySet {
		weekdays = append(weekdays, wd)
	}
	if len(weekdays) == 0 {
		return &models.SweepReport{}, nil
	}

	ids, err := s.enrolments.ListAffectedBySweep(ctx, weekdays, r.Start, r.End)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list affected enrolments")
	}

	report := &models.SweepReport{Affected: len(ids)}
	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		recomputed, failed := s.recomputeBatch(ctx, ids[start:end])
		report.Recomputed += recomputed
		report.Failed += failed
		report.Batches++
	}

	s.logger.Info("coverage sweep finished",
		zap.String("range_start", string(r.Start)),
		zap.String("range_end", string(r.End)),
		zap.Int("affected", report.Affected),
		zap.Int("recomputed", report.Recomputed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// recomputeBatch processes one batch in its own transaction. A batch that
// fails is logged and skipped; the enrolments stay eligible for the next
// run.
func (s *SweepService) recomputeBatch(ctx context.Context, ids []string) (recomputed, failed int) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("sweep batch begin failed", zap.Error(err))
		return 0, len(ids)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if err := s.recomputeOneTx(ctx, tx, id); err != nil {
			s.logger.Warn("sweep recompute failed", zap.String("enrolment_id", id), zap.Error(err))
			failed++
			continue
		}
		recomputed++
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sweep batch commit failed", zap.Error(err))
		return 0, len(ids)
	}
	return recomputed, failed
}

func (s *SweepService) recomputeOneTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	enrolment, err := s.enrolments.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	if enrolment.PaidThroughDate == nil || enrolment.Status == models.EnrolmentStatusCancelled {
		return nil
	}
	plan, err := s.plans.FindByIDTx(ctx, tx, enrolment.PlanID)
	if err != nil {
		return err
	}
	templates, err := s.templates.ListForEnrolmentTx(ctx, tx, enrolment.ID)
	if err != nil {
		return err
	}
	holidays, err := s.calendar.ListFromTx(ctx, tx, enrolment.StartDate)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}
	var cancellations []models.ClassCancellation
	if len(ids) > 0 {
		cancellations, err = s.calendar.ListCancellationsByTemplatesTx(ctx, tx, ids, enrolment.StartDate)
		if err != nil {
			return err
		}
	}

	computed := s.resolver.ProjectComputedEnd(CoverageInput{
		Enrolment:     *enrolment,
		Plan:          *plan,
		Templates:     templates,
		Holidays:      holidays,
		Cancellations: cancellations,
	})

	// Unchanged projections still get written; the update is idempotent
	// and cheaper than diffing.
	return s.enrolments.UpdateComputedCoverageTx(ctx, tx, enrolment.ID, computed)
}
