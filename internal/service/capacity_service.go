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
	"github.com/lanekeeper/swim-ops-api/pkg/database"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type capacityTemplateReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassTemplate, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.ClassTemplate, error)
}

type capacityEnrolmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrolment, error)
	ListActiveByTemplates(ctx context.Context, templateIDs []string) ([]models.EnrolmentTemplateRow, error)
}

type capacityAttendanceStore interface {
	ListExcused(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.Attendance, error)
	ListApprovedAwayPeriods(ctx context.Context, studentIDs []string, from, to daykey.Key) ([]models.AwayPeriod, error)
	ListConfirmedMakeups(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.MakeupBooking, error)
	CountConfirmedMakeupsTx(ctx context.Context, tx *sqlx.Tx, templateID string, date daykey.Key) (int, error)
	CreateMakeupTx(ctx context.Context, tx *sqlx.Tx, booking *models.MakeupBooking) error
}

type capacityCalendarReader interface {
	ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error)
	ListCancellationsByTemplates(ctx context.Context, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error)
}

// AvailabilityRequest asks for free seats across templates and a range.
type AvailabilityRequest struct {
	TemplateIDs []string   `json:"template_ids" validate:"required,min=1"`
	From        daykey.Key `json:"from" validate:"required"`
	To          daykey.Key `json:"to" validate:"required"`
}

// BookMakeupRequest reserves a seat for a student at one occurrence.
type BookMakeupRequest struct {
	EnrolmentID string     `json:"enrolment_id" validate:"required"`
	TemplateID  string     `json:"template_id" validate:"required"`
	Date        daykey.Key `json:"date" validate:"required"`

	// Override lets staff book past capacity. Never set on the
	// customer-facing path.
	Override bool `json:"override"`
}

// CapacityService computes free seats per occurrence and books makeups.
//
// A seat is free when capacity minus effective attendance leaves room:
// effective attendance is the enrolled headcount minus students excused
// for that date (recorded absences and approved away periods), plus
// makeups already booked in.
type CapacityService struct {
	templates  capacityTemplateReader
	enrolments capacityEnrolmentReader
	attendance capacityAttendanceStore
	calendar   capacityCalendarReader
	cache      *CacheService
	tx         txProvider
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCapacityService constructs CapacityService.
func NewCapacityService(
	templates capacityTemplateReader,
	enrolments capacityEnrolmentReader,
	attendance capacityAttendanceStore,
	calendar capacityCalendarReader,
	cache *CacheService,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *CapacityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{
		templates:  templates,
		enrolments: enrolments,
		attendance: attendance,
		calendar:   calendar,
		cache:      cache,
		tx:         tx,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

func availabilityCacheKey(templateID string, from, to daykey.Key) string {
	return fmt.Sprintf("capacity:%s:%s:%s", templateID, from, to)
}

// Availabilities returns free seats for every occurrence of the requested
// templates inside the range. Holiday and cancelled dates are not
// occurrences and do not appear.
func (s *CapacityService) Availabilities(ctx context.Context, req AvailabilityRequest) ([]models.MakeupAvailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability request")
	}
	if req.To.Before(req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "range end precedes range start")
	}

	templates, err := s.templates.ListByIDs(ctx, req.TemplateIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load templates")
	}

	var out []models.MakeupAvailability
	var uncached []models.ClassTemplate
	for _, tpl := range templates {
		var cached []models.MakeupAvailability
		hit, _ := s.cache.Get(ctx, availabilityCacheKey(tpl.ID, req.From, req.To), &cached)
		if hit {
			out = append(out, cached...)
			continue
		}
		uncached = append(uncached, tpl)
	}
	if len(uncached) == 0 {
		return out, nil
	}

	computed, err := s.computeAvailabilities(ctx, uncached, req.From, req.To)
	if err != nil {
		return nil, err
	}
	for tplID, rows := range computed {
		_ = s.cache.Set(ctx, availabilityCacheKey(tplID, req.From, req.To), rows, 0)
		out = append(out, rows...)
	}
	return out, nil
}

func (s *CapacityService) computeAvailabilities(ctx context.Context, templates []models.ClassTemplate, from, to daykey.Key) (map[string][]models.MakeupAvailability, error) {
	ids := make([]string, 0, len(templates))
	for _, tpl := range templates {
		ids = append(ids, tpl.ID)
	}

	rows, err := s.enrolments.ListActiveByTemplates(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolments")
	}
	holidays, err := s.calendar.ListOverlapping(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	cancellations, err := s.calendar.ListCancellationsByTemplates(ctx, ids, from)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellations")
	}
	excused, err := s.attendance.ListExcused(ctx, ids, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	makeups, err := s.attendance.ListConfirmedMakeups(ctx, ids, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeups")
	}

	studentIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	byTemplate := make(map[string][]models.EnrolmentTemplateRow)
	for _, row := range rows {
		byTemplate[row.AssignedTemplateID] = append(byTemplate[row.AssignedTemplateID], row)
		if !seen[row.StudentID] {
			seen[row.StudentID] = true
			studentIDs = append(studentIDs, row.StudentID)
		}
	}

	var awayPeriods []models.AwayPeriod
	if len(studentIDs) > 0 {
		awayPeriods, err = s.attendance.ListApprovedAwayPeriods(ctx, studentIDs, from, to)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load away periods")
		}
	}

	type slot struct {
		tpl  string
		date daykey.Key
	}
	excusedEnrolments := make(map[slot]map[string]bool)
	for _, a := range excused {
		k := slot{a.TemplateID, a.Date}
		if excusedEnrolments[k] == nil {
			excusedEnrolments[k] = make(map[string]bool)
		}
		excusedEnrolments[k][a.EnrolmentID] = true
	}
	makeupCounts := make(map[slot]int)
	for _, b := range makeups {
		makeupCounts[slot{b.TemplateID, b.Date}]++
	}

	out := make(map[string][]models.MakeupAvailability, len(templates))
	for _, tpl := range templates {
		assigned := byTemplate[tpl.ID]
		capacity := effectiveCapacity(tpl)
		result := []models.MakeupAvailability{}
		for _, date := range occurrences(tpl, from, to, holidays, cancellations) {
			scheduled := 0
			excusedCount := 0
			k := slot{tpl.ID, date}
			for _, row := range assigned {
				if !scheduledOn(row, date) {
					continue
				}
				scheduled++
				if excusedEnrolments[k][row.ID] || studentAway(awayPeriods, row.StudentID, date) {
					excusedCount++
				}
			}
			booked := makeupCounts[k]
			available := capacity - (scheduled - excusedCount) - booked
			if available < 0 || capacity <= 0 {
				// Misconfigured or overfull occurrences never offer
				// seats.
				available = 0
			}
			result = append(result, models.MakeupAvailability{
				TemplateID:    tpl.ID,
				Date:          date,
				Capacity:      capacity,
				Scheduled:     scheduled,
				Excused:       excusedCount,
				BookedMakeups: booked,
				Available:     available,
			})
		}
		out[tpl.ID] = result
	}
	return out, nil
}

// scheduledOn extends ActiveOn with the billing filter: a weekly
// enrolment holds its seat only through its paid-through date, so a
// lapsed weekly enrolment never counts toward the occurrence headcount.
func scheduledOn(row models.EnrolmentTemplateRow, date daykey.Key) bool {
	if !row.ActiveOn(date) {
		return false
	}
	if row.BillingType != models.BillingPerWeek {
		return true
	}
	paid := row.PaidThroughDateComputed
	if paid == nil {
		paid = row.PaidThroughDate
	}
	return paid != nil && !date.After(*paid)
}

// effectiveCapacity fails closed on templates with no level mapping;
// eligibility cannot be checked against an unknown level, so no seats
// are offered.
func effectiveCapacity(tpl models.ClassTemplate) int {
	if tpl.LevelID == nil || tpl.Capacity < 0 {
		return 0
	}
	return tpl.Capacity
}

func studentAway(periods []models.AwayPeriod, studentID string, date daykey.Key) bool {
	for i := range periods {
		if periods[i].StudentID == studentID && periods[i].Includes(date) {
			return true
		}
	}
	return false
}

// BookMakeup reserves a seat at an occurrence. A full occurrence yields a
// structured CapacityExceeded outcome rather than an error, so the caller
// can offer an explicit staff override. Losing the race for the last seat
// surfaces as a retryable conflict.
func (s *CapacityService) BookMakeup(ctx context.Context, req BookMakeupRequest) (*models.BookingOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking request")
	}

	enrolment, err := s.enrolments.FindByID(ctx, req.EnrolmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if enrolment.Status == models.EnrolmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrolment is cancelled")
	}

	tpl, err := s.templates.FindByID(ctx, req.TemplateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}

	holidays, err := s.calendar.ListOverlapping(ctx, req.Date, req.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
	}
	cancellations, err := s.calendar.ListCancellationsByTemplates(ctx, []string{tpl.ID}, req.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cancellations")
	}
	if len(occurrences(*tpl, req.Date, req.Date, holidays, cancellations)) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class does not run on that date")
	}

	scheduled, excusedCount, err := s.occupancy(ctx, tpl, req.Date)
	if err != nil {
		return nil, err
	}

	// Serializable so two bookings racing for the last seat cannot both
	// read the same makeup count and both insert.
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	booked, err := s.attendance.CountConfirmedMakeupsTx(ctx, tx, tpl.ID, req.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count makeups")
	}

	capacity := effectiveCapacity(*tpl)
	current := scheduled - excusedCount + booked
	projected := current + 1
	if (capacity <= 0 || projected > capacity) && !req.Override {
		s.metrics.RecordBooking("exceeded")
		return &models.BookingOutcome{
			Exceeded: &models.CapacityExceeded{
				Occurrence: models.OccurrenceRef{TemplateID: tpl.ID, Date: req.Date},
				Capacity:   capacity,
				Current:    current,
				Projected:  projected,
			},
		}, nil
	}

	booking := &models.MakeupBooking{
		StudentID:   enrolment.StudentID,
		EnrolmentID: enrolment.ID,
		TemplateID:  tpl.ID,
		Date:        req.Date,
		Status:      models.MakeupBookingConfirmed,
	}
	if err := s.attendance.CreateMakeupTx(ctx, tx, booking); err != nil {
		if database.IsUniqueViolation(err) {
			s.metrics.RecordBooking("conflict")
			return nil, appErrors.Clone(appErrors.ErrSpotTaken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}
	if err := tx.Commit(); err != nil {
		if database.IsSerializationFailure(err) || database.IsUniqueViolation(err) {
			s.metrics.RecordBooking("conflict")
			return nil, appErrors.Clone(appErrors.ErrSpotTaken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}

	_ = s.cache.Invalidate(ctx, fmt.Sprintf("capacity:%s:*", tpl.ID))
	s.metrics.RecordBooking("booked")
	s.logger.Info("makeup booked",
		zap.String("enrolment_id", enrolment.ID),
		zap.String("template_id", tpl.ID),
		zap.String("date", string(req.Date)))
	return &models.BookingOutcome{Booked: true, Booking: booking}, nil
}

// occupancy computes the enrolled headcount and excused count for one
// occurrence outside the booking transaction; rosters change far slower
// than bookings and the serializable insert carries the real race.
func (s *CapacityService) occupancy(ctx context.Context, tpl *models.ClassTemplate, date daykey.Key) (int, int, error) {
	rows, err := s.enrolments.ListActiveByTemplates(ctx, []string{tpl.ID})
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolments")
	}
	excused, err := s.attendance.ListExcused(ctx, []string{tpl.ID}, date, date)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	excusedSet := make(map[string]bool, len(excused))
	for _, a := range excused {
		if a.Date == date {
			excusedSet[a.EnrolmentID] = true
		}
	}

	studentIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		studentIDs = append(studentIDs, row.StudentID)
	}
	var awayPeriods []models.AwayPeriod
	if len(studentIDs) > 0 {
		awayPeriods, err = s.attendance.ListApprovedAwayPeriods(ctx, studentIDs, date, date)
		if err != nil {
			return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load away periods")
		}
	}

	scheduled, excusedCount := 0, 0
	for _, row := range rows {
		if !scheduledOn(row, date) {
			continue
		}
		scheduled++
		if excusedSet[row.ID] || studentAway(awayPeriods, row.StudentID, date) {
			excusedCount++
		}
	}
	return scheduled, excusedCount, nil
}
