package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// InvoiceStatus follows the billing lifecycle. The payment oracle (Stripe
// webhooks upstream of this service) flips invoices to PAID; the
// entitlement applier only ever consumes already-PAID invoices.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
)

// InvoiceLineKind tags what a line item purchases.
type InvoiceLineKind string

const (
	LineKindEnrolment InvoiceLineKind = "ENROLMENT"
	LineKindFee       InvoiceLineKind = "FEE"
)

// Invoice purchases a coverage window (weekly plans) or a credit block
// (per-class plans) for an enrolment.
//
// EntitlementsAppliedAt is the idempotency flag: non-null means coverage
// or credits have been applied exactly once; re-running the applier on
// such an invoice is a no-op.
type Invoice struct {
	ID     string        `db:"id" json:"id"`
	Number string        `db:"number" json:"number"`
	Status InvoiceStatus `db:"status" json:"status"`

	CoverageStart    *daykey.Key `db:"coverage_start" json:"coverage_start,omitempty"`
	CoverageEnd      *daykey.Key `db:"coverage_end" json:"coverage_end,omitempty"`
	CreditsPurchased int         `db:"credits_purchased" json:"credits_purchased"`

	Total decimal.Decimal `db:"total" json:"total"`

	EntitlementsAppliedAt *time.Time `db:"entitlements_applied_at" json:"entitlements_applied_at,omitempty"`
	PaidAt                *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Applied reports whether entitlements have already been granted.
func (i *Invoice) Applied() bool {
	return i.EntitlementsAppliedAt != nil
}

// InvoiceLine is one purchased item on an invoice. Enrolment lines carry
// the plan the invoice was issued against; the applier refuses to extend
// coverage when the enrolment's plan no longer matches.
type InvoiceLine struct {
	ID          string          `db:"id" json:"id"`
	InvoiceID   string          `db:"invoice_id" json:"invoice_id"`
	Kind        InvoiceLineKind `db:"kind" json:"kind"`
	EnrolmentID *string         `db:"enrolment_id" json:"enrolment_id,omitempty"`
	PlanID      *string         `db:"plan_id" json:"plan_id,omitempty"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
