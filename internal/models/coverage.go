package models

import "github.com/lanekeeper/swim-ops-api/pkg/daykey"

// CoverageWindow is the span of scheduled classes a payment entitles an
// enrolment to. A collapsed window (nil Start and End) means nothing is
// left to cover; callers treat it as zero periods, not an error.
type CoverageWindow struct {
	Start *daykey.Key `json:"start,omitempty"`
	End   *daykey.Key `json:"end,omitempty"`

	// EndBase is the nominal end ignoring holidays and cancellations,
	// kept separate for display and audit.
	EndBase *daykey.Key `json:"end_base,omitempty"`

	// Sessions is the number of scheduled classes the window consumed.
	Sessions int `json:"sessions"`
}

// Collapsed reports whether the window covers nothing.
func (w CoverageWindow) Collapsed() bool {
	return w.Start == nil || w.End == nil
}

// PayAheadSequence is the result of chaining the weekly window algorithm
// across multiple prepaid periods.
type PayAheadSequence struct {
	Periods int              `json:"periods"`
	Start   *daykey.Key      `json:"start,omitempty"`
	End     *daykey.Key      `json:"end,omitempty"`
	Windows []CoverageWindow `json:"windows"`
}

// CoverageResult is what invoice issuance consumes: the resolved window
// plus, for PER_CLASS plans, the credits the invoice purchases.
type CoverageResult struct {
	Window           CoverageWindow `json:"window"`
	CreditsPurchased int            `json:"credits_purchased"`
}

// OccurrenceRef identifies one concrete class date.
type OccurrenceRef struct {
	TemplateID string     `json:"template_id"`
	Date       daykey.Key `json:"date"`
}

// MakeupAvailability reports free seats for one occurrence:
// capacity - (scheduled - excused) - booked makeups.
type MakeupAvailability struct {
	TemplateID    string     `json:"template_id"`
	Date          daykey.Key `json:"date"`
	Capacity      int        `json:"capacity"`
	Scheduled     int        `json:"scheduled"`
	Excused       int        `json:"excused"`
	BookedMakeups int        `json:"booked_makeups"`
	Available     int        `json:"available"`
}

// CapacityExceeded is the structured (non-error) outcome of a booking
// attempt against a full occurrence, surfaced so the caller can block or
// allow an explicit admin override.
type CapacityExceeded struct {
	Occurrence OccurrenceRef `json:"occurrence"`
	Capacity   int           `json:"capacity"`
	Current    int           `json:"current"`
	Projected  int           `json:"projected"`
}

// BookingOutcome is the result of a makeup booking attempt.
type BookingOutcome struct {
	Booked   bool              `json:"booked"`
	Booking  *MakeupBooking    `json:"booking,omitempty"`
	Exceeded *CapacityExceeded `json:"exceeded,omitempty"`
}

// SweepReport summarises one recompute sweep run.
type SweepReport struct {
	Affected   int `json:"affected"`
	Recomputed int `json:"recomputed"`
	Failed     int `json:"failed"`
	Batches    int `json:"batches"`
}
