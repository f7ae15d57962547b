package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingType selects the coverage algorithm for a plan.
type BillingType string

const (
	BillingPerWeek  BillingType = "PER_WEEK"
	BillingPerClass BillingType = "PER_CLASS"
)

// EnrolmentType distinguishes fixed blocks from open class passes for
// PER_CLASS plans.
type EnrolmentType string

const (
	EnrolmentTypeBlock EnrolmentType = "BLOCK"
	EnrolmentTypeClass EnrolmentType = "CLASS"
)

// EnrolmentPlan is the billing contract an enrolment is sold under.
// Plans are immutable once referenced by paid invoices; a pricing or
// structure change means a new plan and a new enrolment.
type EnrolmentPlan struct {
	ID          string      `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	BillingType BillingType `db:"billing_type" json:"billing_type"`

	// PER_WEEK fields.
	DurationWeeks   int `db:"duration_weeks" json:"duration_weeks"`
	SessionsPerWeek int `db:"sessions_per_week" json:"sessions_per_week"`

	// PER_CLASS fields.
	BlockClassCount int           `db:"block_class_count" json:"block_class_count"`
	EnrolmentType   EnrolmentType `db:"enrolment_type" json:"enrolment_type"`

	Price     decimal.Decimal `db:"price" json:"price"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// IsWeekly reports whether the plan bills by covered time.
func (p *EnrolmentPlan) IsWeekly() bool {
	return p.BillingType == BillingPerWeek
}

// IsBlock reports whether the plan sells fixed class-count blocks.
func (p *EnrolmentPlan) IsBlock() bool {
	return p.BillingType == BillingPerClass && p.EnrolmentType == EnrolmentTypeBlock
}
