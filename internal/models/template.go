package models

import (
	"time"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// ClassTemplate is a recurring weekly class slot. DayOfWeek is normalised
// to Monday=0 .. Sunday=6 and may be null for templates without a weekly
// schedule (ad-hoc blocks).
type ClassTemplate struct {
	ID        string      `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	LevelID   *string     `db:"level_id" json:"level_id,omitempty"`
	DayOfWeek *int        `db:"day_of_week" json:"day_of_week,omitempty"`
	StartTime string      `db:"start_time" json:"start_time"`
	Capacity  int         `db:"capacity" json:"capacity"`
	Active    bool        `db:"active" json:"active"`
	StartDate *daykey.Key `db:"start_date" json:"start_date,omitempty"`
	EndDate   *daykey.Key `db:"end_date" json:"end_date,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// RunsOn reports whether the template's lifespan includes the given day.
// It does not check the weekday; the occurrence enumerator does that.
func (t *ClassTemplate) RunsOn(day daykey.Key) bool {
	if t.StartDate != nil && day.Before(*t.StartDate) {
		return false
	}
	if t.EndDate != nil && day.After(*t.EndDate) {
		return false
	}
	return true
}
