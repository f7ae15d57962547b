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

const holidayColumns = `id, name, start_date, end_date, template_id, level_id, created_at, updated_at`
const cancellationColumns = `id, template_id, date, reason, credits_granted, created_at`

// HolidayRepository handles persistence of holidays and one-off class
// cancellations.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs the repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// FindByID returns a holiday by its ID.
func (r *HolidayRepository) FindByID(ctx context.Context, id string) (*models.Holiday, error) {
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE id = $1`, holidayColumns)
	var holiday models.Holiday
	if err := r.db.GetContext(ctx, &holiday, query, id); err != nil {
		return nil, err
	}
	return &holiday, nil
}

// ListOverlapping returns holidays whose range intersects [start, end].
func (r *HolidayRepository) ListOverlapping(ctx context.Context, start, end daykey.Key) ([]models.Holiday, error) {
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE start_date <= $2 AND end_date >= $1 ORDER BY start_date`, holidayColumns)
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, start, end); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return holidays, nil
}

// ListFrom returns holidays ending on or after the given day. Coverage
// resolution walks forward without a fixed horizon, so it loads every
// holiday that can still exclude an occurrence.
func (r *HolidayRepository) ListFrom(ctx context.Context, start daykey.Key) ([]models.Holiday, error) {
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE end_date >= $1 ORDER BY start_date`, holidayColumns)
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, start); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return holidays, nil
}

// ListFromTx is ListFrom inside an open transaction.
func (r *HolidayRepository) ListFromTx(ctx context.Context, tx *sqlx.Tx, start daykey.Key) ([]models.Holiday, error) {
	query := fmt.Sprintf(`SELECT %s FROM holidays WHERE end_date >= $1 ORDER BY start_date`, holidayColumns)
	var holidays []models.Holiday
	if err := tx.SelectContext(ctx, &holidays, query, start); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return holidays, nil
}

// Create persists a new holiday.
func (r *HolidayRepository) Create(ctx context.Context, holiday *models.Holiday) error {
	if holiday.ID == "" {
		holiday.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	holiday.CreatedAt = now
	holiday.UpdatedAt = now
	const query = `INSERT INTO holidays (id, name, start_date, end_date, template_id, level_id, created_at, updated_at)
        VALUES (:id, :name, :start_date, :end_date, :template_id, :level_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, holiday); err != nil {
		return fmt.Errorf("create holiday: %w", err)
	}
	return nil
}

// Update rewrites a holiday's range and scope.
func (r *HolidayRepository) Update(ctx context.Context, holiday *models.Holiday) error {
	holiday.UpdatedAt = time.Now().UTC()
	const query = `UPDATE holidays
        SET name = :name, start_date = :start_date, end_date = :end_date, template_id = :template_id, level_id = :level_id, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, holiday); err != nil {
		return fmt.Errorf("update holiday: %w", err)
	}
	return nil
}

// Delete removes a holiday.
func (r *HolidayRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM holidays WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete holiday: %w", err)
	}
	return nil
}

// FindCancellation returns the cancellation for a template and date, if any.
func (r *HolidayRepository) FindCancellation(ctx context.Context, templateID string, date daykey.Key) (*models.ClassCancellation, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_cancellations WHERE template_id = $1 AND date = $2`, cancellationColumns)
	var cancellation models.ClassCancellation
	if err := r.db.GetContext(ctx, &cancellation, query, templateID, date); err != nil {
		return nil, err
	}
	return &cancellation, nil
}

// ListCancellationsByTemplates returns cancellations for the given
// templates on or after the given day.
func (r *HolidayRepository) ListCancellationsByTemplates(ctx context.Context, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM class_cancellations WHERE template_id = ANY($1) AND date >= $2 ORDER BY date`, cancellationColumns)
	var cancellations []models.ClassCancellation
	if err := r.db.SelectContext(ctx, &cancellations, query, pq.Array(templateIDs), from); err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	return cancellations, nil
}

// ListCancellationsByTemplatesTx is the transactional variant.
func (r *HolidayRepository) ListCancellationsByTemplatesTx(ctx context.Context, tx *sqlx.Tx, templateIDs []string, from daykey.Key) ([]models.ClassCancellation, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM class_cancellations WHERE template_id = ANY($1) AND date >= $2 ORDER BY date`, cancellationColumns)
	var cancellations []models.ClassCancellation
	if err := tx.SelectContext(ctx, &cancellations, query, pq.Array(templateIDs), from); err != nil {
		return nil, fmt.Errorf("list cancellations: %w", err)
	}
	return cancellations, nil
}

// CreateCancellation persists a cancellation inside an open transaction.
func (r *HolidayRepository) CreateCancellationTx(ctx context.Context, tx *sqlx.Tx, cancellation *models.ClassCancellation) error {
	if cancellation.ID == "" {
		cancellation.ID = uuid.NewString()
	}
	cancellation.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO class_cancellations (id, template_id, date, reason, credits_granted, created_at)
        VALUES (:id, :template_id, :date, :reason, :credits_granted, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, cancellation); err != nil {
		return fmt.Errorf("create cancellation: %w", err)
	}
	return nil
}

// MarkCancellationCreditsGrantedTx flips the duplicate-grant guard.
func (r *HolidayRepository) MarkCancellationCreditsGrantedTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE class_cancellations SET credits_granted = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark cancellation credited: %w", err)
	}
	return nil
}

// DeleteCancellation removes a cancellation (re-instating the occurrence).
func (r *HolidayRepository) DeleteCancellation(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM class_cancellations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete cancellation: %w", err)
	}
	return nil
}
