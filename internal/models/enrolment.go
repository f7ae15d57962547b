package models

import (
	"time"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// EnrolmentStatus tracks the lifecycle of a student's registration.
type EnrolmentStatus string

const (
	EnrolmentStatusActive     EnrolmentStatus = "ACTIVE"
	EnrolmentStatusPaused     EnrolmentStatus = "PAUSED"
	EnrolmentStatusChangeover EnrolmentStatus = "CHANGEOVER"
	EnrolmentStatusCancelled  EnrolmentStatus = "CANCELLED"
)

// BillingStatus summarises how far the enrolment is paid for.
type BillingStatus string

const (
	BillingStatusUnbilled BillingStatus = "UNBILLED"
	BillingStatusCovered  BillingStatus = "COVERED"
	BillingStatusLapsed   BillingStatus = "LAPSED"
)

// Enrolment is a student's registration in one or more weekly class slots
// under a single billing plan.
//
// PaidThroughDate is authoritative and invoice-stamped; it only moves when
// a paid invoice is applied (or through explicit admin credit/refund).
// PaidThroughDateComputed is the holiday/cancellation-adjusted projection
// maintained by the coverage resolver and is informational only.
// CreditsBalanceCached mirrors the ledger sum for PER_CLASS plans and is
// refreshed in the same transaction as every ledger append.
type Enrolment struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	PlanID    string `db:"plan_id" json:"plan_id"`
	LevelID   *string `db:"level_id" json:"level_id,omitempty"`

	StartDate daykey.Key  `db:"start_date" json:"start_date"`
	EndDate   *daykey.Key `db:"end_date" json:"end_date,omitempty"`

	Status        EnrolmentStatus `db:"status" json:"status"`
	BillingStatus BillingStatus   `db:"billing_status" json:"billing_status"`

	PaidThroughDate         *daykey.Key `db:"paid_through_date" json:"paid_through_date,omitempty"`
	PaidThroughDateComputed *daykey.Key `db:"paid_through_date_computed" json:"paid_through_date_computed,omitempty"`
	CreditsBalanceCached    int         `db:"credits_balance_cached" json:"credits_balance_cached"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ActiveOn reports whether the enrolment's status and date range cover the
// given day.
func (e *Enrolment) ActiveOn(day daykey.Key) bool {
	if e.Status != EnrolmentStatusActive {
		return false
	}
	if day.Before(e.StartDate) {
		return false
	}
	if e.EndDate != nil && day.After(*e.EndDate) {
		return false
	}
	return true
}

// EnrolmentDetail joins the enrolment with its plan and assigned templates.
type EnrolmentDetail struct {
	Enrolment
	StudentName string          `db:"student_name" json:"student_name"`
	PlanName    string          `db:"plan_name" json:"plan_name"`
	BillingType BillingType     `db:"billing_type" json:"billing_type"`
	Templates   []ClassTemplate `db:"-" json:"templates,omitempty"`
}

// EnrolmentTemplateRow is an enrolment joined with one of its template
// assignments, used by bulk capacity computation.
type EnrolmentTemplateRow struct {
	Enrolment
	AssignedTemplateID string      `db:"assigned_template_id"`
	BillingType        BillingType `db:"billing_type"`
}

// EnrolmentFilter describes list query parameters.
type EnrolmentFilter struct {
	StudentID  string
	PlanID     string
	TemplateID string
	LevelID    string
	Status     EnrolmentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
