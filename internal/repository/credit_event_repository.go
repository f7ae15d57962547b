package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

const creditEventColumns = `id, enrolment_id, type, credits_delta, occurred_on, invoice_id, template_id, note, created_at`

// CreditEventRepository persists the append-only credit ledger.
// There is no update or delete: corrections are new events.
type CreditEventRepository struct {
	db *sqlx.DB
}

// NewCreditEventRepository constructs the repository.
func NewCreditEventRepository(db *sqlx.DB) *CreditEventRepository {
	return &CreditEventRepository{db: db}
}

// AppendTx inserts one ledger row inside an open transaction.
func (r *CreditEventRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, event *models.EnrolmentCreditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrolment_credit_events (id, enrolment_id, type, credits_delta, occurred_on, invoice_id, template_id, note, created_at)
        VALUES (:id, :enrolment_id, :type, :credits_delta, :occurred_on, :invoice_id, :template_id, :note, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, event); err != nil {
		return fmt.Errorf("append credit event: %w", err)
	}
	return nil
}

// SumTx recomputes the balance from all deltas inside an open transaction.
func (r *CreditEventRepository) SumTx(ctx context.Context, tx *sqlx.Tx, enrolmentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM enrolment_credit_events WHERE enrolment_id = $1`
	var sum int
	if err := tx.GetContext(ctx, &sum, query, enrolmentID); err != nil {
		return 0, fmt.Errorf("sum credit events: %w", err)
	}
	return sum, nil
}

// Sum recomputes the balance from all deltas.
func (r *CreditEventRepository) Sum(ctx context.Context, enrolmentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM enrolment_credit_events WHERE enrolment_id = $1`
	var sum int
	if err := r.db.GetContext(ctx, &sum, query, enrolmentID); err != nil {
		return 0, fmt.Errorf("sum credit events: %w", err)
	}
	return sum, nil
}

// ListByEnrolment returns the full ledger for an enrolment, oldest first.
func (r *CreditEventRepository) ListByEnrolment(ctx context.Context, enrolmentID string) ([]models.EnrolmentCreditEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolment_credit_events WHERE enrolment_id = $1 ORDER BY created_at, id`, creditEventColumns)
	var events []models.EnrolmentCreditEvent
	if err := r.db.SelectContext(ctx, &events, query, enrolmentID); err != nil {
		return nil, fmt.Errorf("list credit events: %w", err)
	}
	return events, nil
}

// CancellationCreditExistsTx reports whether the enrolment already holds a
// cancellation credit for the given template and date.
func (r *CreditEventRepository) CancellationCreditExistsTx(ctx context.Context, tx *sqlx.Tx, enrolmentID, templateID string, date daykey.Key) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM enrolment_credit_events
        WHERE enrolment_id = $1 AND template_id = $2 AND occurred_on = $3 AND type = $4)`
	var exists bool
	if err := tx.GetContext(ctx, &exists, query, enrolmentID, templateID, date, models.CreditEventCancellationCredit); err != nil {
		return false, fmt.Errorf("check cancellation credit: %w", err)
	}
	return exists, nil
}

// PurchaseTotalForInvoiceTx sums PURCHASE deltas already recorded against
// an invoice, protecting re-derivation from shrinking entitlements.
func (r *CreditEventRepository) PurchaseTotalForInvoiceTx(ctx context.Context, tx *sqlx.Tx, invoiceID string) (int, error) {
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM enrolment_credit_events WHERE invoice_id = $1 AND type = $2`
	var sum int
	if err := tx.GetContext(ctx, &sum, query, invoiceID, models.CreditEventPurchase); err != nil {
		return 0, fmt.Errorf("sum invoice purchases: %w", err)
	}
	return sum, nil
}
