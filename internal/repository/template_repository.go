package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanekeeper/swim-ops-api/internal/models"
)

const templateColumns = `id, name, level_id, day_of_week, start_time, capacity, active, start_date, end_date, created_at, updated_at`

// TemplateRepository handles persistence of class templates and their
// enrolment assignments.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindByID returns a template by its ID.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.ClassTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_templates WHERE id = $1`, templateColumns)
	var tpl models.ClassTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListByIDs returns templates for the given IDs.
func (r *TemplateRepository) ListByIDs(ctx context.Context, ids []string) ([]models.ClassTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM class_templates WHERE id = ANY($1)`, templateColumns)
	var tpls []models.ClassTemplate
	if err := r.db.SelectContext(ctx, &tpls, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// ListForEnrolment returns the templates assigned to an enrolment in
// assignment order.
func (r *TemplateRepository) ListForEnrolment(ctx context.Context, enrolmentID string) ([]models.ClassTemplate, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM class_templates t
        JOIN enrolment_class_templates a ON a.template_id = t.id
        WHERE a.enrolment_id = $1
        ORDER BY a.created_at, t.id`, joinPrefix(templateColumns, "t."))
	var tpls []models.ClassTemplate
	if err := r.db.SelectContext(ctx, &tpls, query, enrolmentID); err != nil {
		return nil, fmt.Errorf("list enrolment templates: %w", err)
	}
	return tpls, nil
}

// ListForEnrolmentTx is ListForEnrolment inside an open transaction.
func (r *TemplateRepository) ListForEnrolmentTx(ctx context.Context, tx *sqlx.Tx, enrolmentID string) ([]models.ClassTemplate, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM class_templates t
        JOIN enrolment_class_templates a ON a.template_id = t.id
        WHERE a.enrolment_id = $1
        ORDER BY a.created_at, t.id`, joinPrefix(templateColumns, "t."))
	var tpls []models.ClassTemplate
	if err := tx.SelectContext(ctx, &tpls, query, enrolmentID); err != nil {
		return nil, fmt.Errorf("list enrolment templates: %w", err)
	}
	return tpls, nil
}

// AssignTx links a template to an enrolment.
func (r *TemplateRepository) AssignTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string) error {
	const query = `INSERT INTO enrolment_class_templates (enrolment_id, template_id) VALUES ($1, $2)
        ON CONFLICT (enrolment_id, template_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, enrolmentID, templateID); err != nil {
		return fmt.Errorf("assign template: %w", err)
	}
	return nil
}
