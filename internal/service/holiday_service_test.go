package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

type holidayStoreMock struct {
	holidays      map[string]models.Holiday
	cancellations map[string]models.ClassCancellation
	created       *models.ClassCancellation
	marked        []string
	deleted       []string
}

func (m *holidayStoreMock) FindByID(ctx context.Context, id string) (*models.Holiday, error) {
	if h, ok := m.holidays[id]; ok {
		return &h, nil
	}
	return nil, sql.ErrNoRows
}

func (m *holidayStoreMock) ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error) {
	var out []models.Holiday
	for _, h := range m.holidays {
		out = append(out, h)
	}
	return out, nil
}

func (m *holidayStoreMock) Create(ctx context.Context, holiday *models.Holiday) error {
	holiday.ID = "hol-new"
	return nil
}

func (m *holidayStoreMock) Update(ctx context.Context, holiday *models.Holiday) error {
	m.holidays[holiday.ID] = *holiday
	return nil
}

func (m *holidayStoreMock) Delete(ctx context.Context, id string) error {
	delete(m.holidays, id)
	return nil
}

func (m *holidayStoreMock) FindCancellation(ctx context.Context, templateID string, date daykey.Key) (*models.ClassCancellation, error) {
	if c, ok := m.cancellations[templateID+"|"+string(date)]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *holidayStoreMock) CreateCancellationTx(ctx context.Context, tx *sqlx.Tx, cancellation *models.ClassCancellation) error {
	cancellation.ID = "cancel-new"
	m.created = cancellation
	return nil
}

func (m *holidayStoreMock) MarkCancellationCreditsGrantedTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	m.marked = append(m.marked, id)
	return nil
}

func (m *holidayStoreMock) DeleteCancellation(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type sweepTriggerMock struct {
	ranges []models.DateRange
}

func (m *sweepTriggerMock) EnqueueRange(r models.DateRange) error {
	m.ranges = append(m.ranges, r)
	return nil
}

func newHolidayFixture(t *testing.T, store *holidayStoreMock, rows []models.EnrolmentTemplateRow) (*HolidayService, *ledgerEventsMock, *sweepTriggerMock, *ledgerTxMock) {
	tpl := mondayTemplate("tpl-1")
	templates := &capacityTemplatesMock{templates: map[string]models.ClassTemplate{"tpl-1": tpl}}
	enrolments := &capacityEnrolmentsMock{rows: rows}
	events := &ledgerEventsMock{granted: map[string]bool{}}
	ledger := NewCreditLedgerService(events, &ledgerEnrolmentsMock{cached: map[string]int{}}, nil, nil, nil, nil, nil)
	sweep := &sweepTriggerMock{}
	txm := newLedgerTxMock(t)
	svc := NewHolidayService(store, templates, enrolments, ledger, sweep, txm, nil, nil)
	return svc, events, sweep, txm
}

func perClassRow(enrolmentID string) models.EnrolmentTemplateRow {
	row := activeRow(enrolmentID, "stu-"+enrolmentID, "tpl-1")
	row.BillingType = models.BillingPerClass
	return row
}

func TestHolidayCancelOccurrenceGrantsPerClassCredits(t *testing.T) {
	weekly := activeRow("enrol-weekly", "stu-w", "tpl-1")
	weekly.BillingType = models.BillingPerWeek
	paused := perClassRow("enrol-paused")
	paused.Status = models.EnrolmentStatusPaused

	store := &holidayStoreMock{cancellations: map[string]models.ClassCancellation{}}
	svc, events, sweep, txm := newHolidayFixture(t, store,
		[]models.EnrolmentTemplateRow{perClassRow("enrol-1"), weekly, paused})

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	result, err := svc.CancelOccurrence(context.Background(), CancelOccurrenceRequest{
		TemplateID: "tpl-1",
		Date:       daykey.MustParse("2025-01-13"),
		Reason:     "pool maintenance",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.CreditsGranted)
	assert.True(t, result.Cancellation.CreditsGranted)
	require.Len(t, events.events, 1)
	assert.Equal(t, "enrol-1", events.events[0].EnrolmentID)
	assert.Equal(t, models.CreditEventCancellationCredit, events.events[0].Type)
	assert.Equal(t, 1, events.events[0].CreditsDelta)
	assert.Equal(t, []string{"cancel-new"}, store.marked)
	require.Len(t, sweep.ranges, 1)
	assert.Equal(t, daykey.MustParse("2025-01-13"), sweep.ranges[0].Start)
	require.NoError(t, txm.mock.ExpectationsWereMet())
}

func TestHolidayCancelOccurrenceSkipsAlreadyGrantedCredits(t *testing.T) {
	store := &holidayStoreMock{cancellations: map[string]models.ClassCancellation{}}
	svc, events, _, txm := newHolidayFixture(t, store,
		[]models.EnrolmentTemplateRow{perClassRow("enrol-1")})
	events.granted["enrol-1|tpl-1|2025-01-13"] = true

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	result, err := svc.CancelOccurrence(context.Background(), CancelOccurrenceRequest{
		TemplateID: "tpl-1",
		Date:       daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.CreditsGranted)
	assert.False(t, result.Cancellation.CreditsGranted)
	assert.Empty(t, events.events)
	assert.Empty(t, store.marked)
}

func TestHolidayCancelOccurrenceRejectsWrongWeekday(t *testing.T) {
	store := &holidayStoreMock{cancellations: map[string]models.ClassCancellation{}}
	svc, _, _, _ := newHolidayFixture(t, store, nil)

	_, err := svc.CancelOccurrence(context.Background(), CancelOccurrenceRequest{
		TemplateID: "tpl-1",
		Date:       daykey.MustParse("2025-01-14"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
}

func TestHolidayCancelOccurrenceConflictsWhenAlreadyCancelled(t *testing.T) {
	store := &holidayStoreMock{cancellations: map[string]models.ClassCancellation{
		"tpl-1|2025-01-13": {ID: "cancel-1", TemplateID: "tpl-1", Date: daykey.MustParse("2025-01-13")},
	}}
	svc, _, _, _ := newHolidayFixture(t, store, nil)

	_, err := svc.CancelOccurrence(context.Background(), CancelOccurrenceRequest{
		TemplateID: "tpl-1",
		Date:       daykey.MustParse("2025-01-13"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestHolidayUncancelOccurrenceRemovesCancellation(t *testing.T) {
	store := &holidayStoreMock{cancellations: map[string]models.ClassCancellation{
		"tpl-1|2025-01-13": {ID: "cancel-1", TemplateID: "tpl-1", Date: daykey.MustParse("2025-01-13")},
	}}
	svc, _, sweep, _ := newHolidayFixture(t, store, nil)

	err := svc.UncancelOccurrence(context.Background(), "tpl-1", daykey.MustParse("2025-01-13"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel-1"}, store.deleted)
	require.Len(t, sweep.ranges, 1)

	err = svc.UncancelOccurrence(context.Background(), "tpl-1", daykey.MustParse("2025-01-20"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestHolidayCreateRejectsDualScope(t *testing.T) {
	store := &holidayStoreMock{holidays: map[string]models.Holiday{}}
	svc, _, sweep, _ := newHolidayFixture(t, store, nil)

	_, err := svc.Create(context.Background(), HolidayRequest{
		Name:       "Term break",
		StartDate:  daykey.MustParse("2025-04-07"),
		EndDate:    daykey.MustParse("2025-04-21"),
		TemplateID: "tpl-1",
		LevelID:    "level-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, sweep.ranges)
}

func TestHolidayCreateScopedToTemplateEnqueuesRecompute(t *testing.T) {
	store := &holidayStoreMock{holidays: map[string]models.Holiday{}}
	svc, _, sweep, _ := newHolidayFixture(t, store, nil)

	holiday, err := svc.Create(context.Background(), HolidayRequest{
		Name:       "Carnival day",
		StartDate:  daykey.MustParse("2025-03-10"),
		EndDate:    daykey.MustParse("2025-03-10"),
		TemplateID: "tpl-1",
	})
	require.NoError(t, err)
	require.NotNil(t, holiday.TemplateID)
	assert.Equal(t, "tpl-1", *holiday.TemplateID)
	assert.Nil(t, holiday.LevelID)
	require.Len(t, sweep.ranges, 1)
	assert.Equal(t, daykey.MustParse("2025-03-10"), sweep.ranges[0].End)
}
