package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// AttendanceRepository handles attendance records, away periods and makeup
// bookings.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// ListExcused returns excused attendance rows for the given templates in
// [from, to], for bulk availability computation.
func (r *AttendanceRepository) ListExcused(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.Attendance, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, enrolment_id, template_id, date, status, notes, created_at, updated_at
        FROM attendances
        WHERE template_id = ANY($1) AND date BETWEEN $2 AND $3 AND status = $4`
	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(templateIDs), from, to, models.AttendanceStatusExcused); err != nil {
		return nil, fmt.Errorf("list excused attendance: %w", err)
	}
	return rows, nil
}

// ListApprovedAwayPeriods returns approved away periods overlapping
// [from, to] for the given students.
func (r *AttendanceRepository) ListApprovedAwayPeriods(ctx context.Context, studentIDs []string, from, to daykey.Key) ([]models.AwayPeriod, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, student_id, start_date, end_date, status, created_at
        FROM away_periods
        WHERE student_id = ANY($1) AND status = $2 AND start_date <= $4 AND end_date >= $3`
	var rows []models.AwayPeriod
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(studentIDs), models.AwayPeriodApproved, from, to); err != nil {
		return nil, fmt.Errorf("list away periods: %w", err)
	}
	return rows, nil
}

// ListConfirmedMakeups returns confirmed makeup bookings for the given
// templates in [from, to].
func (r *AttendanceRepository) ListConfirmedMakeups(ctx context.Context, templateIDs []string, from, to daykey.Key) ([]models.MakeupBooking, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, student_id, enrolment_id, template_id, date, status, created_at
        FROM makeup_bookings
        WHERE template_id = ANY($1) AND date BETWEEN $2 AND $3 AND status = $4`
	var rows []models.MakeupBooking
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(templateIDs), from, to, models.MakeupBookingConfirmed); err != nil {
		return nil, fmt.Errorf("list makeup bookings: %w", err)
	}
	return rows, nil
}

// CountConfirmedMakeupsTx counts confirmed bookings for one occurrence
// inside an open transaction.
func (r *AttendanceRepository) CountConfirmedMakeupsTx(ctx context.Context, tx *sqlx.Tx, templateID string, date daykey.Key) (int, error) {
	const query = `SELECT COUNT(*) FROM makeup_bookings WHERE template_id = $1 AND date = $2 AND status = $3`
	var count int
	if err := tx.GetContext(ctx, &count, query, templateID, date, models.MakeupBookingConfirmed); err != nil {
		return 0, fmt.Errorf("count makeup bookings: %w", err)
	}
	return count, nil
}

// CreateMakeupTx inserts a confirmed booking. The unique constraint on
// (template_id, date, student_id) makes the last-seat race surface as a
// unique violation instead of overbooking.
func (r *AttendanceRepository) CreateMakeupTx(ctx context.Context, tx *sqlx.Tx, booking *models.MakeupBooking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.MakeupBookingConfirmed
	}
	booking.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO makeup_bookings (id, student_id, enrolment_id, template_id, date, status, created_at)
        VALUES (:id, :student_id, :enrolment_id, :template_id, :date, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, booking); err != nil {
		return fmt.Errorf("create makeup booking: %w", err)
	}
	return nil
}
