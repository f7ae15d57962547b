package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lanekeeper/swim-ops-api/internal/models"
)

const invoiceColumns = `id, number, status, coverage_start, coverage_end, credits_purchased, total, entitlements_applied_at, paid_at, created_at, updated_at`
const invoiceLineColumns = `id, invoice_id, kind, enrolment_id, plan_id, description, quantity, amount, created_at`

// InvoiceRepository handles persistence of invoices and their lines.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindByID returns an invoice by its ID.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1`, invoiceColumns)
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindByIDForUpdateTx loads an invoice with a row lock, serialising
// concurrent entitlement application attempts on the same invoice.
func (r *InvoiceRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1 FOR UPDATE`, invoiceColumns)
	var invoice models.Invoice
	if err := tx.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// LinesTx returns all lines of an invoice inside an open transaction.
func (r *InvoiceRepository) LinesTx(ctx context.Context, tx *sqlx.Tx, invoiceID string) ([]models.InvoiceLine, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoice_lines WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceLineColumns)
	var lines []models.InvoiceLine
	if err := tx.SelectContext(ctx, &lines, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	return lines, nil
}

// Lines returns all lines of an invoice.
func (r *InvoiceRepository) Lines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoice_lines WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceLineColumns)
	var lines []models.InvoiceLine
	if err := r.db.SelectContext(ctx, &lines, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	return lines, nil
}

// CreateTx persists an invoice and its lines atomically.
func (r *InvoiceRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, invoice *models.Invoice, lines []models.InvoiceLine) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	const query = `INSERT INTO invoices (id, number, status, coverage_start, coverage_end, credits_purchased, total, entitlements_applied_at, paid_at, created_at, updated_at)
        VALUES (:id, :number, :status, :coverage_start, :coverage_end, :credits_purchased, :total, :entitlements_applied_at, :paid_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, invoice); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	const lineQuery = `INSERT INTO invoice_lines (id, invoice_id, kind, enrolment_id, plan_id, description, quantity, amount, created_at)
        VALUES (:id, :invoice_id, :kind, :enrolment_id, :plan_id, :description, :quantity, :amount, :created_at)`
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		lines[i].InvoiceID = invoice.ID
		lines[i].CreatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, tx, lineQuery, &lines[i]); err != nil {
			return fmt.Errorf("create invoice line: %w", err)
		}
	}
	return nil
}

// StampAppliedTx records that entitlements were granted exactly once.
func (r *InvoiceRepository) StampAppliedTx(ctx context.Context, tx *sqlx.Tx, id string, appliedAt time.Time) error {
	const query = `UPDATE invoices SET entitlements_applied_at = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, appliedAt); err != nil {
		return fmt.Errorf("stamp invoice applied: %w", err)
	}
	return nil
}

// UpdateCreditsPurchasedTx records the derived credit quantity on the
// invoice. Only ever raises the stored value (monotonic clamp lives in
// the resolver).
func (r *InvoiceRepository) UpdateCreditsPurchasedTx(ctx context.Context, tx *sqlx.Tx, id string, credits int) error {
	const query = `UPDATE invoices SET credits_purchased = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, credits); err != nil {
		return fmt.Errorf("update invoice credits: %w", err)
	}
	return nil
}

// MarkPaid transitions an invoice to PAID. Invoked by the payment-oracle
// webhook path before entitlements are applied.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	const query = `UPDATE invoices SET status = $2, paid_at = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.InvoiceStatusPaid, paidAt); err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	return nil
}
