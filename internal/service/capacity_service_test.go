package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type capacityTemplatesMock struct {
	templates map[string]models.ClassTemplate
}

func (m *capacityTemplatesMock) FindByID(ctx context.Context, id string) (*models.ClassTemplate, error) {
	if tpl, ok := m.templates[id]; ok {
		return &tpl, nil
	}
	return nil, sql.ErrNoRows
}

func (m *capacityTemplatesMock) ListByIDs(ctx context.Context, ids []string) ([]models.ClassTemplate, error) {
	var out []models.ClassTemplate
	for _, id := range ids {
		if tpl, ok := m.templates[id]; ok {
			out = append(out, tpl)
		}
	}
	return out, nil
}

type capacityEnrolmentsMock struct {
	enrolments map[string]models.Enrolment
	rows       []models.EnrolmentTemplateRow
}

func (m *capacityEnrolmentsMock) FindByID(ctx context.Context, id string) (*models.Enrolment, error) {
	if e, ok := m.enrolments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *capacityEnrolmentsMock) ListActiveByTemplates(ctx context.Context, templateIDs []string) ([]models.EnrolmentTemplateRow, error) {
	return m.rows, nil
}

type capacityAttendanceMock struct {
	excused     []models.Attendance
	awayPeriods []models.AwayPeriod
	makeups     []models.MakeupBooking
	bookedCount int
	createErr   error
	created     *models.MakeupBooking
}

func (m *capacityAttendanceMock) ListExcused(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.Attendance, error) {
	return m.excused, nil
}

func (m *capacityAttendanceMock) ListApprovedAwayPeriods(ctx context.Context, studentIDs []string, from, to daykey.Key) ([]models.AwayPeriod, error) {
	return m.awayPeriods, nil
}

func (m *capacityAttendanceMock) ListConfirmedMakeups(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.MakeupBooking, error) {
	return m.makeups, nil
}

func (m *capacityAttendanceMock) CountConfirmedMakeupsTx(ctx context.Context, tx *sqlx.Tx, templateID string, date daykey.Key) (int, error) {
	return m.bookedCount, nil
}

func (m *capacityAttendanceMock) CreateMakeupTx(ctx context.Context, tx *sqlx.Tx, booking *models.MakeupBooking) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = booking
	return nil
}

type capacityCalendarMock struct {
	holidays      []models.Holiday
	cancellations []models.ClassCancellation
}

func (m *capacityCalendarMock) ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error) {
	return m.holidays, nil
}

func (m *capacityCalendarMock) ListCancellationsByTemplates(ctx context.Context, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error) {
	return m.cancellations, nil
}

func activeRow(enrolmentID, studentID, templateID string) models.EnrolmentTemplateRow {
	return models.EnrolmentTemplateRow{
		Enrolment: models.Enrolment{
			ID:        enrolmentID,
			StudentID: studentID,
			StartDate: daykey.MustParse("2025-01-01"),
			Status:    models.EnrolmentStatusActive,
		},
		AssignedTemplateID: templateID,
	}
}

func newCapacityFixture(t *testing.T, templates *capacityTemplatesMock, enrolments *capacityEnrolmentsMock, attendance *capacityAttendanceMock, calendar *capacityCalendarMock) (*CapacityService, *ledgerTxMock) {
	txm := newLedgerTxMock(t)
	cache := NewCacheService(nil, nil, 0, nil, false)
	return NewCapacityService(templates, enrolments, attendance, calendar, cache, txm, nil, nil, nil), txm
}

func TestCapacityAvailabilitiesCountsEffectiveAttendance(t *testing.T) {
	tpl := mondayTemplate("tpl-1")
	tpl.Capacity = 10
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}

	rows := make([]models.EnrolmentTemplateRow, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, activeRow(fmt.Sprintf("enrol-%d", i), fmt.Sprintf("stu-%d", i), "tpl-1"))
	}
	enrolments := &capacityEnrolmentsMock{rows: rows}

	date := daykey.MustParse("2025-01-13")
	attendance := &capacityAttendanceMock{
		excused: []models.Attendance{
			{EnrolmentID: "enrol-0", TemplateID: "tpl-1", Date: date, Status: models.AttendanceStatusExcused},
		},
		awayPeriods: []models.AwayPeriod{
			{StudentID: "stu-1", StartDate: daykey.MustParse("2025-01-10"), EndDate: daykey.MustParse("2025-01-20"), Status: models.AwayPeriodApproved},
		},
		makeups: []models.MakeupBooking{
			{TemplateID: "tpl-1", Date: date, Status: models.MakeupBookingConfirmed},
		},
	}

	svc, _ := newCapacityFixture(t, templates, enrolments, attendance, &capacityCalendarMock{})

	out, err := svc.Availabilities(context.Background(), AvailabilityRequest{
		TemplateIDs: []string{"tpl-1"},
		From:        date,
		To:          date,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	// Ten enrolled, one excused, one away, one makeup booked in:
	// 10 - (10 - 2) - 1 = 1 free seat.
	assert.Equal(t, 10, out[0].Scheduled)
	assert.Equal(t, 2, out[0].Excused)
	assert.Equal(t, 1, out[0].BookedMakeups)
	assert.Equal(t, 1, out[0].Available)
}

func TestCapacityAvailabilitiesSkipsHolidayOccurrences(t *testing.T) {
	tpl := mondayTemplate("tpl-1")
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}
	calendar := &capacityCalendarMock{holidays: []models.Holiday{globalHoliday("2025-01-13", "2025-01-13")}}
	svc, _ := newCapacityFixture(t, templates, &capacityEnrolmentsMock{}, &capacityAttendanceMock{}, calendar)

	out, err := svc.Availabilities(context.Background(), AvailabilityRequest{
		TemplateIDs: []string{"tpl-1"},
		From:        daykey.MustParse("2025-01-06"),
		To:          daykey.MustParse("2025-01-20"),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, daykey.MustParse("2025-01-06"), out[0].Date)
	assert.Equal(t, daykey.MustParse("2025-01-20"), out[1].Date)
}

func TestCapacityAvailabilitiesExcludesLapsedWeeklyEnrolments(t *testing.T) {
	tpl := mondayTemplate("tpl-1")
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}

	covered := activeRow("enrol-covered", "stu-c", "tpl-1")
	covered.BillingType = models.BillingPerWeek
	covered.PaidThroughDate = keyPtr("2025-01-20")

	lapsed := activeRow("enrol-lapsed", "stu-l", "tpl-1")
	lapsed.BillingType = models.BillingPerWeek
	lapsed.PaidThroughDate = keyPtr("2025-01-06")

	unbilled := activeRow("enrol-unbilled", "stu-u", "tpl-1")
	unbilled.BillingType = models.BillingPerWeek

	perClass := activeRow("enrol-credits", "stu-p", "tpl-1")
	perClass.BillingType = models.BillingPerClass

	enrolments := &capacityEnrolmentsMock{rows: []models.EnrolmentTemplateRow{covered, lapsed, unbilled, perClass}}
	svc, _ := newCapacityFixture(t, templates, enrolments, &capacityAttendanceMock{}, &capacityCalendarMock{})

	out, err := svc.Availabilities(context.Background(), AvailabilityRequest{
		TemplateIDs: []string{"tpl-1"},
		From:        daykey.MustParse("2025-01-13"),
		To:          daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	// Only the covered weekly enrolment and the per-class enrolment hold
	// seats; lapsed and never-billed weekly enrolments do not.
	assert.Equal(t, 2, out[0].Scheduled)
	assert.Equal(t, 8, out[0].Available)
}

func TestCapacityAvailabilitiesFailClosedWithoutLevel(t *testing.T) {
	tpl := mondayTemplate("tpl-1")
	tpl.LevelID = nil
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}
	enrolments := &capacityEnrolmentsMock{rows: []models.EnrolmentTemplateRow{activeRow("enrol-0", "stu-0", "tpl-1")}}
	svc, _ := newCapacityFixture(t, templates, enrolments, &capacityAttendanceMock{}, &capacityCalendarMock{})

	out, err := svc.Availabilities(context.Background(), AvailabilityRequest{
		TemplateIDs: []string{"tpl-1"},
		From:        daykey.MustParse("2025-01-13"),
		To:          daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Capacity)
	assert.Equal(t, 0, out[0].Available)
}

func bookingFixture(t *testing.T, capacity, enrolled, booked int) (*CapacityService, *capacityAttendanceMock, *ledgerTxMock) {
	tpl := mondayTemplate("tpl-1")
	tpl.Capacity = capacity
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}

	rows := make([]models.EnrolmentTemplateRow, 0, enrolled)
	for i := 0; i < enrolled; i++ {
		rows = append(rows, activeRow(fmt.Sprintf("enrol-%d", i), fmt.Sprintf("stu-%d", i), "tpl-1"))
	}
	enrolments := &capacityEnrolmentsMock{
		enrolments: map[string]models.Enrolment{
			"visitor": {ID: "visitor", StudentID: "stu-visitor", StartDate: daykey.MustParse("2025-01-01"), Status: models.EnrolmentStatusActive},
		},
		rows: rows,
	}
	attendance := &capacityAttendanceMock{bookedCount: booked}
	svc, txm := newCapacityFixture(t, templates, enrolments, attendance, &capacityCalendarMock{})
	return svc, attendance, txm
}

func TestCapacityBookMakeupSucceeds(t *testing.T) {
	svc, attendance, txm := bookingFixture(t, 10, 8, 0)

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	outcome, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Booked)
	require.NotNil(t, attendance.created)
	assert.Equal(t, "stu-visitor", attendance.created.StudentID)
	assert.Equal(t, models.MakeupBookingConfirmed, attendance.created.Status)
}

func TestCapacityBookMakeupFullReturnsStructuredOutcome(t *testing.T) {
	svc, attendance, txm := bookingFixture(t, 10, 10, 0)

	txm.mock.ExpectBegin()
	txm.mock.ExpectRollback()

	outcome, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Booked)
	require.NotNil(t, outcome.Exceeded)
	assert.Equal(t, 10, outcome.Exceeded.Capacity)
	assert.Equal(t, 10, outcome.Exceeded.Current)
	assert.Equal(t, 11, outcome.Exceeded.Projected)
	assert.Nil(t, attendance.created)
}

func TestCapacityBookMakeupOverrideBooksPastCapacity(t *testing.T) {
	svc, attendance, txm := bookingFixture(t, 10, 10, 0)

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	outcome, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-13"),
		Override:    true,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Booked)
	assert.NotNil(t, attendance.created)
}

func TestCapacityBookMakeupFailsClosedWithoutLevel(t *testing.T) {
	tpl := mondayTemplate("tpl-1")
	tpl.LevelID = nil
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}
	enrolments := &capacityEnrolmentsMock{
		enrolments: map[string]models.Enrolment{
			"visitor": {ID: "visitor", StudentID: "stu-visitor", StartDate: daykey.MustParse("2025-01-01"), Status: models.EnrolmentStatusActive},
		},
	}
	svc, txm := newCapacityFixture(t, templates, enrolments, &capacityAttendanceMock{}, &capacityCalendarMock{})

	txm.mock.ExpectBegin()
	txm.mock.ExpectRollback()

	outcome, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	assert.False(t, outcome.Booked)
	require.NotNil(t, outcome.Exceeded)
	assert.Equal(t, 0, outcome.Exceeded.Capacity)
}

func TestCapacityBookMakeupLosingRaceIsRetryable(t *testing.T) {
	svc, attendance, txm := bookingFixture(t, 10, 8, 0)
	attendance.createErr = &pq.Error{Code: "23505"}

	txm.mock.ExpectBegin()
	txm.mock.ExpectRollback()

	_, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-13"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSpotTaken.Code))
}

func TestCapacityBookMakeupRejectsNonOccurrenceDate(t *testing.T) {
	svc, _, _ := bookingFixture(t, 10, 0, 0)

	// 2025-01-14 is a Tuesday; the template runs Mondays.
	_, err := svc.BookMakeup(context.Background(), BookMakeupRequest{
		EnrolmentID: "visitor",
		TemplateID:  "tpl-1",
		Date:        daykey.MustParse("2025-01-14"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
}
