package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

const enrolmentColumns = `id, student_id, plan_id, level_id, start_date, end_date, status, billing_status, paid_through_date, paid_through_date_computed, credits_balance_cached, created_at, updated_at`

// EnrolmentRepository handles persistence of enrolments.
type EnrolmentRepository struct {
	db *sqlx.DB
}

// NewEnrolmentRepository constructs the repository.
func NewEnrolmentRepository(db *sqlx.DB) *EnrolmentRepository {
	return &EnrolmentRepository{db: db}
}

// List returns enrolments filtered by the provided criteria.
func (r *EnrolmentRepository) List(ctx context.Context, filter models.EnrolmentFilter) ([]models.EnrolmentDetail, int, error) {
	base := `FROM enrolments e
JOIN enrolment_plans p ON p.id = e.plan_id
LEFT JOIN students s ON s.id = e.student_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.PlanID != "" {
		conditions = append(conditions, fmt.Sprintf("e.plan_id = $%d", len(args)+1))
		args = append(args, filter.PlanID)
	}
	if filter.LevelID != "" {
		conditions = append(conditions, fmt.Sprintf("e.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.TemplateID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM enrolment_class_templates a WHERE a.enrolment_id = e.id AND a.template_id = $%d)", len(args)+1))
		args = append(args, filter.TemplateID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"start_date":   "e.start_date",
		"student_name": "s.full_name",
		"status":       "e.status",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "start_date"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, COALESCE(s.full_name, '') AS student_name, p.name AS plan_name, p.billing_type
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, joinPrefix(enrolmentColumns, "e."), base+clause, orderBy, order, size, offset)

	var enrolments []models.EnrolmentDetail
	if err := r.db.SelectContext(ctx, &enrolments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrolments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrolments: %w", err)
	}
	return enrolments, total, nil
}

// FindByID returns an enrolment by its ID.
func (r *EnrolmentRepository) FindByID(ctx context.Context, id string) (*models.Enrolment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments WHERE id = $1`, enrolmentColumns)
	var enrolment models.Enrolment
	if err := r.db.GetContext(ctx, &enrolment, query, id); err != nil {
		return nil, err
	}
	return &enrolment, nil
}

// FindByIDForUpdateTx loads an enrolment with a row lock inside an open
// transaction.
func (r *EnrolmentRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrolment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments WHERE id = $1 FOR UPDATE`, enrolmentColumns)
	var enrolment models.Enrolment
	if err := tx.GetContext(ctx, &enrolment, query, id); err != nil {
		return nil, err
	}
	return &enrolment, nil
}

// FindDetailByID returns an enrolment with plan context.
func (r *EnrolmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrolmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s, COALESCE(s.full_name, '') AS student_name, p.name AS plan_name, p.billing_type
        FROM enrolments e
        JOIN enrolment_plans p ON p.id = e.plan_id
        LEFT JOIN students s ON s.id = e.student_id
        WHERE e.id = $1`, joinPrefix(enrolmentColumns, "e."))
	var detail models.EnrolmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new enrolment record.
func (r *EnrolmentRepository) Create(ctx context.Context, enrolment *models.Enrolment) error {
	return r.create(ctx, r.db, enrolment)
}

// CreateTx persists a new enrolment inside an open transaction.
func (r *EnrolmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, enrolment *models.Enrolment) error {
	return r.create(ctx, tx, enrolment)
}

func (r *EnrolmentRepository) create(ctx context.Context, ext sqlx.ExtContext, enrolment *models.Enrolment) error {
	if enrolment.ID == "" {
		enrolment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrolment.CreatedAt.IsZero() {
		enrolment.CreatedAt = now
	}
	enrolment.UpdatedAt = now
	if enrolment.Status == "" {
		enrolment.Status = models.EnrolmentStatusActive
	}
	if enrolment.BillingStatus == "" {
		enrolment.BillingStatus = models.BillingStatusUnbilled
	}
	const query = `INSERT INTO enrolments (id, student_id, plan_id, level_id, start_date, end_date, status, billing_status, paid_through_date, paid_through_date_computed, credits_balance_cached, created_at, updated_at)
        VALUES (:id, :student_id, :plan_id, :level_id, :start_date, :end_date, :status, :billing_status, :paid_through_date, :paid_through_date_computed, :credits_balance_cached, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, enrolment); err != nil {
		return fmt.Errorf("create enrolment: %w", err)
	}
	return nil
}

// UpdateStatus updates status and end date for an enrolment.
func (r *EnrolmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrolmentStatus, endDate *daykey.Key) error {
	const query = `UPDATE enrolments SET status = $2, end_date = COALESCE($3, end_date), updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, endDate); err != nil {
		return fmt.Errorf("update enrolment status: %w", err)
	}
	return nil
}

// UpdateStatusTx updates status and end date inside an open transaction.
func (r *EnrolmentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrolmentStatus, endDate *daykey.Key) error {
	const query = `UPDATE enrolments SET status = $2, end_date = COALESCE($3, end_date), updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, endDate); err != nil {
		return fmt.Errorf("update enrolment status: %w", err)
	}
	return nil
}

// UpdateCoverageTx stamps paid-through dates and billing status inside an
// open transaction.
func (r *EnrolmentRepository) UpdateCoverageTx(ctx context.Context, tx *sqlx.Tx, id string, paidThrough, paidThroughComputed *daykey.Key, billing models.BillingStatus) error {
	const query = `UPDATE enrolments
        SET paid_through_date = $2, paid_through_date_computed = $3, billing_status = $4, updated_at = NOW()
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, paidThrough, paidThroughComputed, billing); err != nil {
		return fmt.Errorf("update enrolment coverage: %w", err)
	}
	return nil
}

// UpdateComputedCoverageTx refreshes only the informational computed date.
func (r *EnrolmentRepository) UpdateComputedCoverageTx(ctx context.Context, tx *sqlx.Tx, id string, paidThroughComputed *daykey.Key) error {
	const query = `UPDATE enrolments SET paid_through_date_computed = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, paidThroughComputed); err != nil {
		return fmt.Errorf("update computed coverage: %w", err)
	}
	return nil
}

// RefreshCreditsCacheTx rewrites the cached balance from the ledger sum.
// Must run in the same transaction as the ledger append.
func (r *EnrolmentRepository) RefreshCreditsCacheTx(ctx context.Context, tx *sqlx.Tx, id string, balance int) error {
	const query = `UPDATE enrolments SET credits_balance_cached = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, balance); err != nil {
		return fmt.Errorf("refresh credits cache: %w", err)
	}
	return nil
}

// ListActiveByTemplates returns active enrolments assigned to any of the
// given templates, for bulk capacity computation.
func (r *EnrolmentRepository) ListActiveByTemplates(ctx context.Context, templateIDs []string) ([]models.EnrolmentTemplateRow, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s, a.template_id AS assigned_template_id, p.billing_type
        FROM enrolments e
        JOIN enrolment_class_templates a ON a.enrolment_id = e.id
        JOIN enrolment_plans p ON p.id = e.plan_id
        WHERE a.template_id = ANY($1) AND e.status = $2`, joinPrefix(enrolmentColumns, "e."))
	var rows []models.EnrolmentTemplateRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(templateIDs), models.EnrolmentStatusActive); err != nil {
		return nil, fmt.Errorf("list enrolments by templates: %w", err)
	}
	return rows, nil
}

// ListAffectedBySweep returns IDs of active enrolments whose assigned
// templates run on any of the affected weekdays and whose date range
// overlaps the changed range.
func (r *EnrolmentRepository) ListAffectedBySweep(ctx context.Context, weekdays []int, rangeStart, rangeEnd daykey.Key) ([]string, error) {
	if len(weekdays) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT e.id
        FROM enrolments e
        JOIN enrolment_class_templates a ON a.enrolment_id = e.id
        JOIN class_templates t ON t.id = a.template_id
        WHERE e.status = $1
          AND t.day_of_week = ANY($2)
          AND e.start_date <= $3
          AND (e.end_date IS NULL OR e.end_date >= $4)
        ORDER BY e.id`
	ints := make([]int64, len(weekdays))
	for i, w := range weekdays {
		ints[i] = int64(w)
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.EnrolmentStatusActive, pq.Array(ints), rangeEnd, rangeStart); err != nil {
		return nil, fmt.Errorf("list sweep enrolments: %w", err)
	}
	return ids, nil
}
