package models

import (
	"time"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// AttendanceStatus represents the recorded state for one occurrence.
type AttendanceStatus string

const (
	AttendanceStatusAttended AttendanceStatus = "ATTENDED"
	AttendanceStatusExcused  AttendanceStatus = "EXCUSED"
	AttendanceStatusAbsent   AttendanceStatus = "ABSENT"
)

// Attendance is one student's record for one occurrence of a template.
type Attendance struct {
	ID          string           `db:"id" json:"id"`
	EnrolmentID string           `db:"enrolment_id" json:"enrolment_id"`
	TemplateID  string           `db:"template_id" json:"template_id"`
	Date        daykey.Key       `db:"date" json:"date"`
	Status      AttendanceStatus `db:"status" json:"status"`
	Notes       *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// AwayPeriodStatus is the approval state for a planned absence.
type AwayPeriodStatus string

const (
	AwayPeriodPending  AwayPeriodStatus = "PENDING"
	AwayPeriodApproved AwayPeriodStatus = "APPROVED"
	AwayPeriodDeclined AwayPeriodStatus = "DECLINED"
)

// AwayPeriod is an approved planned absence. Occurrences inside an
// approved period count as excused even before attendance is recorded.
type AwayPeriod struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	StartDate daykey.Key       `db:"start_date" json:"start_date"`
	EndDate   daykey.Key       `db:"end_date" json:"end_date"`
	Status    AwayPeriodStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// Includes reports whether the period covers the given day.
func (p *AwayPeriod) Includes(day daykey.Key) bool {
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

// MakeupBookingStatus is the state of a makeup reservation.
type MakeupBookingStatus string

const (
	MakeupBookingConfirmed MakeupBookingStatus = "CONFIRMED"
	MakeupBookingCancelled MakeupBookingStatus = "CANCELLED"
)

// MakeupBooking reserves a seat at another occurrence to compensate for
// an excused absence. A unique constraint on (template_id, date,
// student_id) turns a lost race for the last seat into a retryable
// conflict instead of silent overbooking.
type MakeupBooking struct {
	ID          string              `db:"id" json:"id"`
	StudentID   string              `db:"student_id" json:"student_id"`
	EnrolmentID string              `db:"enrolment_id" json:"enrolment_id"`
	TemplateID  string              `db:"template_id" json:"template_id"`
	Date        daykey.Key          `db:"date" json:"date"`
	Status      MakeupBookingStatus `db:"status" json:"status"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
}
