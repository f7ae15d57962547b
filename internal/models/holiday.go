package models

import (
	"time"

	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// Holiday is an inclusive date range during which classes do not run.
//
// Scope precedence is strict: a non-null TemplateID limits the holiday to
// that template; otherwise a non-null LevelID limits it to all templates
// of that level; otherwise the holiday is global. A holiday never applies
// outside its declared scope.
type Holiday struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	StartDate  daykey.Key `db:"start_date" json:"start_date"`
	EndDate    daykey.Key `db:"end_date" json:"end_date"`
	TemplateID *string    `db:"template_id" json:"template_id,omitempty"`
	LevelID    *string    `db:"level_id" json:"level_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ClassCancellation removes a single occurrence of one template.
// Independent of holidays.
type ClassCancellation struct {
	ID         string     `db:"id" json:"id"`
	TemplateID string     `db:"template_id" json:"template_id"`
	Date       daykey.Key `db:"date" json:"date"`
	Reason     *string    `db:"reason" json:"reason,omitempty"`

	// CreditsGranted records that affected enrolments have already
	// received their cancellation credit, guarding duplicate grants.
	CreditsGranted bool      `db:"credits_granted" json:"credits_granted"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DateRange is an inclusive day span, used to target the recompute sweep.
type DateRange struct {
	Start daykey.Key `json:"start"`
	End   daykey.Key `json:"end"`
}

// Weekdays returns the set of weekdays (Monday=0..Sunday=6) the range
// touches. Ranges of seven days or more cover every weekday.
func (r DateRange) Weekdays() map[int]bool {
	out := make(map[int]bool, 7)
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		return out
	}
	day := r.Start
	for i := 0; i < 7 && !day.After(r.End); i++ {
		out[day.Weekday()] = true
		day = day.Next()
	}
	return out
}
