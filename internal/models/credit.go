package models

import (
	"time"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// CreditEventType tags ledger entries.
type CreditEventType string

const (
	CreditEventPurchase           CreditEventType = "PURCHASE"
	CreditEventManualAdjust       CreditEventType = "MANUAL_ADJUST"
	CreditEventCancellationCredit CreditEventType = "CANCELLATION_CREDIT"
)

// EnrolmentCreditEvent is one append-only ledger row. The balance of an
// enrolment is always the sum of its deltas; the cached column on the
// enrolment is a read optimisation refreshed from that sum in the same
// transaction as every append, never mutated independently.
type EnrolmentCreditEvent struct {
	ID           string          `db:"id" json:"id"`
	EnrolmentID  string          `db:"enrolment_id" json:"enrolment_id"`
	Type         CreditEventType `db:"type" json:"type"`
	CreditsDelta int             `db:"credits_delta" json:"credits_delta"`
	OccurredOn   daykey.Key      `db:"occurred_on" json:"occurred_on"`
	InvoiceID    *string         `db:"invoice_id" json:"invoice_id,omitempty"`

	// TemplateID is set on cancellation credits so the same
	// template+date+enrolment tuple can never be granted twice.
	TemplateID *string `db:"template_id" json:"template_id,omitempty"`

	Note      *string   `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
