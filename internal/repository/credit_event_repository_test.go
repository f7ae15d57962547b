package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

func newCreditEventRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCreditEventRepositorySum(t *testing.T) {
	db, mock, cleanup := newCreditEventRepoMock(t)
	defer cleanup()
	repo := NewCreditEventRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(credits_delta), 0) FROM enrolment_credit_events WHERE enrolment_id = $1")).
		WithArgs("enrol-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(5))

	sum, err := repo.Sum(context.Background(), "enrol-1")
	require.NoError(t, err)
	require.Equal(t, 5, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditEventRepositoryListByEnrolment(t *testing.T) {
	db, mock, cleanup := newCreditEventRepoMock(t)
	defer cleanup()
	repo := NewCreditEventRepository(db)

	rows := sqlmock.NewRows([]string{"id", "enrolment_id", "type", "credits_delta", "occurred_on", "invoice_id", "template_id", "note", "created_at"}).
		AddRow("evt-1", "enrol-1", models.CreditEventPurchase, 8, "2025-01-06", "inv-1", nil, nil, time.Now()).
		AddRow("evt-2", "enrol-1", models.CreditEventCancellationCredit, 1, "2025-01-13", nil, "tpl-1", nil, time.Now())
	mock.ExpectQuery("SELECT .+ FROM enrolment_credit_events WHERE enrolment_id = .+ ORDER BY created_at, id").
		WithArgs("enrol-1").
		WillReturnRows(rows)

	events, err := repo.ListByEnrolment(context.Background(), "enrol-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, daykey.Key("2025-01-06"), events[0].OccurredOn)
	require.Equal(t, models.CreditEventCancellationCredit, events[1].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditEventRepositoryAppendTx(t *testing.T) {
	db, mock, cleanup := newCreditEventRepoMock(t)
	defer cleanup()
	repo := NewCreditEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrolment_credit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	event := &models.EnrolmentCreditEvent{
		EnrolmentID:  "enrol-1",
		Type:         models.CreditEventManualAdjust,
		CreditsDelta: -2,
		OccurredOn:   daykey.Key("2025-01-06"),
	}
	require.NoError(t, repo.AppendTx(context.Background(), tx, event))
	require.NotEmpty(t, event.ID)
	require.False(t, event.CreatedAt.IsZero())
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditEventRepositoryCancellationCreditExistsTx(t *testing.T) {
	db, mock, cleanup := newCreditEventRepoMock(t)
	defer cleanup()
	repo := NewCreditEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("enrol-1", "tpl-1", daykey.Key("2025-01-13"), models.CreditEventCancellationCredit).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	exists, err := repo.CancellationCreditExistsTx(context.Background(), tx, "enrol-1", "tpl-1", daykey.Key("2025-01-13"))
	require.NoError(t, err)
	require.True(t, exists)
}
