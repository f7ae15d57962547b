package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lanekeeper/swim-ops-api/internal/models"
)

const planColumns = `id, name, billing_type, duration_weeks, sessions_per_week, block_class_count, enrolment_type, price, active, created_at, updated_at`

// PlanRepository handles persistence of enrolment plans.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID returns a plan by its ID.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.EnrolmentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolment_plans WHERE id = $1`, planColumns)
	var plan models.EnrolmentPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindByIDTx returns a plan inside an open transaction.
func (r *PlanRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.EnrolmentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolment_plans WHERE id = $1`, planColumns)
	var plan models.EnrolmentPlan
	if err := tx.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive returns all active plans.
func (r *PlanRepository) ListActive(ctx context.Context) ([]models.EnrolmentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolment_plans WHERE active ORDER BY name`, planColumns)
	var plans []models.EnrolmentPlan
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}
