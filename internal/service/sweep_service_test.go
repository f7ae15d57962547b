package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	"github.com/lanekeeper/swim-ops-api/pkg/jobs"
)

type sweepEnrolmentsMock struct {
	affected   []string
	enrolments map[string]models.Enrolment
	written    map[string]*daykey.Key
}

func (m *sweepEnrolmentsMock) ListAffectedBySweep(ctx context.Context, weekdays []int, rangeStart, rangeEnd daykey.Key) ([]string, error) {
	return m.affected, nil
}

func (m *sweepEnrolmentsMock) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error) {
	if e, ok := m.enrolments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *sweepEnrolmentsMock) UpdateComputedCoverageTx(ctx context.Context, tx *sqlx.Tx, id string, paidThroughComputed *daykey.Key) error {
	if m.written == nil {
		m.written = make(map[string]*daykey.Key)
	}
	m.written[id] = paidThroughComputed
	return nil
}

type sweepThrottleMock struct {
	acquire  bool
	ensured  bool
	acquired int
}

func (m *sweepThrottleMock) TryAcquire(ctx context.Context, name string, interval time.Duration, now time.Time) (bool, error) {
	m.acquired++
	return m.acquire, nil
}

func (m *sweepThrottleMock) Ensure(ctx context.Context, name string) error {
	m.ensured = true
	return nil
}

func newSweepFixture(t *testing.T, enrolments *sweepEnrolmentsMock, throttle *sweepThrottleMock, plan models.EnrolmentPlan, holidays []models.Holiday, batchSize int) (*SweepService, *ledgerTxMock) {
	txm := newLedgerTxMock(t)
	return NewSweepService(
		enrolments,
		&applierPlansMock{plan: &plan},
		&applierTemplatesMock{templates: []models.ClassTemplate{mondayTemplate("tpl-1")}},
		&applierCalendarMock{holidays: holidays},
		throttle,
		resolverFixture(),
		txm,
		nil,
		nil,
		SweepConfig{BatchSize: batchSize},
		nil,
		jobs.QueueConfig{},
	), txm
}

func sweptEnrolment(id string, paidThrough string) models.Enrolment {
	return models.Enrolment{
		ID:              id,
		PlanID:          "plan-weekly",
		StartDate:       daykey.MustParse("2025-01-06"),
		Status:          models.EnrolmentStatusActive,
		PaidThroughDate: keyPtr(paidThrough),
	}
}

func TestSweepRecomputeRangeProjectsHolidayPush(t *testing.T) {
	enrolments := &sweepEnrolmentsMock{
		affected:   []string{"enrol-1"},
		enrolments: map[string]models.Enrolment{"enrol-1": sweptEnrolment("enrol-1", "2025-01-27")},
	}
	holidays := []models.Holiday{globalHoliday("2025-01-13", "2025-01-13")}
	svc, txm := newSweepFixture(t, enrolments, &sweepThrottleMock{}, weeklyPlan(4, 1), holidays, 25)

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	report, err := svc.RecomputeRange(context.Background(), models.DateRange{
		Start: daykey.MustParse("2025-01-13"),
		End:   daykey.MustParse("2025-01-13"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Affected)
	assert.Equal(t, 1, report.Recomputed)
	assert.Equal(t, 0, report.Failed)

	// Paid through the fourth Monday nominally; the holiday pushes the
	// projection one week further.
	require.NotNil(t, enrolments.written["enrol-1"])
	assert.Equal(t, daykey.MustParse("2025-02-03"), *enrolments.written["enrol-1"])
}

func TestSweepRecomputeRangeBatches(t *testing.T) {
	ids := []string{"e1", "e2", "e3", "e4", "e5"}
	stored := make(map[string]models.Enrolment, len(ids))
	for _, id := range ids {
		stored[id] = sweptEnrolment(id, "2025-01-27")
	}
	enrolments := &sweepEnrolmentsMock{affected: ids, enrolments: stored}
	svc, txm := newSweepFixture(t, enrolments, &sweepThrottleMock{}, weeklyPlan(4, 1), nil, 2)

	for i := 0; i < 3; i++ {
		txm.mock.ExpectBegin()
		txm.mock.ExpectCommit()
	}

	report, err := svc.RecomputeRange(context.Background(), models.DateRange{
		Start: daykey.MustParse("2025-01-06"),
		End:   daykey.MustParse("2025-01-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Affected)
	assert.Equal(t, 5, report.Recomputed)
	assert.Equal(t, 3, report.Batches)
}

func TestSweepSkipsUnbilledAndCancelled(t *testing.T) {
	unbilled := sweptEnrolment("e1", "2025-01-27")
	unbilled.PaidThroughDate = nil
	cancelled := sweptEnrolment("e2", "2025-01-27")
	cancelled.Status = models.EnrolmentStatusCancelled

	enrolments := &sweepEnrolmentsMock{
		affected:   []string{"e1", "e2"},
		enrolments: map[string]models.Enrolment{"e1": unbilled, "e2": cancelled},
	}
	svc, txm := newSweepFixture(t, enrolments, &sweepThrottleMock{}, weeklyPlan(4, 1), nil, 25)

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	report, err := svc.RecomputeRange(context.Background(), models.DateRange{
		Start: daykey.MustParse("2025-01-06"),
		End:   daykey.MustParse("2025-01-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Recomputed)
	assert.Empty(t, enrolments.written)
}

func TestSweepPeriodicHonoursThrottle(t *testing.T) {
	throttle := &sweepThrottleMock{acquire: false}
	svc, _ := newSweepFixture(t, &sweepEnrolmentsMock{}, throttle, weeklyPlan(4, 1), nil, 25)

	report, err := svc.MaybeRunPeriodic(context.Background(), models.DateRange{
		Start: daykey.MustParse("2025-01-06"),
		End:   daykey.MustParse("2025-06-30"),
	})
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 1, throttle.acquired)
}

func TestSweepPeriodicRunsWhenAcquired(t *testing.T) {
	throttle := &sweepThrottleMock{acquire: true}
	enrolments := &sweepEnrolmentsMock{
		affected:   []string{"enrol-1"},
		enrolments: map[string]models.Enrolment{"enrol-1": sweptEnrolment("enrol-1", "2025-01-27")},
	}
	svc, txm := newSweepFixture(t, enrolments, throttle, weeklyPlan(4, 1), nil, 25)

	txm.mock.ExpectBegin()
	txm.mock.ExpectCommit()

	report, err := svc.MaybeRunPeriodic(context.Background(), models.DateRange{
		Start: daykey.MustParse("2025-01-06"),
		End:   daykey.MustParse("2025-06-30"),
	})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Recomputed)

	// No holidays: the projection equals the nominal paid-through date.
	require.NotNil(t, enrolments.written["enrol-1"])
	assert.Equal(t, daykey.MustParse("2025-01-27"), *enrolments.written["enrol-1"])
}
