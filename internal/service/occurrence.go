package service

import (
	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// maxOccurrenceScan bounds any forward walk through scheduled dates.
// Entitlements are at most a few hundred sessions; ten years of weekly
// stepping is far beyond any legitimate coverage window.
const maxOccurrenceScan = 521

// nextOnOrAfter snaps a day forward to the first date matching the given
// weekday (Monday=0..Sunday=6).
func nextOnOrAfter(day daykey.Key, weekday int) daykey.Key {
	diff := (weekday - day.Weekday() + 7) % 7
	return day.AddDays(diff)
}

// occurrenceWalker steps through the scheduled dates of one template,
// excluding applicable holidays and per-template cancellations. It is
// restartable: Next always returns the following scheduled date or false
// once the template's own lifespan (or the scan bound) is exhausted.
type occurrenceWalker struct {
	template  models.ClassTemplate
	next      daykey.Key
	excluded  func(daykey.Key) bool
	cancelled map[daykey.Key]bool
	steps     int
}

// newOccurrenceWalker positions a walker at the first scheduled date on or
// after from. Returns nil when the template has no weekly day.
func newOccurrenceWalker(tpl models.ClassTemplate, from daykey.Key, holidays []models.Holiday, cancelled map[daykey.Key]bool) *occurrenceWalker {
	if tpl.DayOfWeek == nil {
		return nil
	}
	start := from
	if tpl.StartDate != nil && start.Before(*tpl.StartDate) {
		start = *tpl.StartDate
	}
	return &occurrenceWalker{
		template:  tpl,
		next:      nextOnOrAfter(start, *tpl.DayOfWeek),
		excluded:  holidayPredicate(holidays, tpl),
		cancelled: cancelled,
	}
}

// peek returns the upcoming scheduled date without consuming it, or false
// when the template is exhausted.
func (w *occurrenceWalker) peek() (daykey.Key, bool) {
	for {
		if w.steps >= maxOccurrenceScan {
			return "", false
		}
		if w.template.EndDate != nil && w.next.After(*w.template.EndDate) {
			return "", false
		}
		if w.excluded(w.next) || w.cancelled[w.next] {
			w.next = w.next.AddDays(7)
			w.steps++
			continue
		}
		return w.next, true
	}
}

// consume advances past the current scheduled date.
func (w *occurrenceWalker) consume() {
	w.next = w.next.AddDays(7)
	w.steps++
}

// occurrences expands a template's scheduled dates within [rangeStart,
// rangeEnd], excluding holidays in scope and one-off cancellations.
func occurrences(tpl models.ClassTemplate, rangeStart, rangeEnd daykey.Key, holidays []models.Holiday, cancellations []models.ClassCancellation) []daykey.Key {
	if rangeEnd.Before(rangeStart) {
		return nil
	}
	w := newOccurrenceWalker(tpl, rangeStart, holidays, cancellationSet(cancellations)[tpl.ID])
	if w == nil {
		return nil
	}
	var out []daykey.Key
	for {
		day, ok := w.peek()
		if !ok || day.After(rangeEnd) {
			return out
		}
		out = append(out, day)
		w.consume()
	}
}

// countHolidayOccurrences counts scheduled dates of a template within
// [rangeStart, rangeEnd] that an applicable holiday excludes. Overlapping
// ranges covering the same date count it once.
func countHolidayOccurrences(tpl models.ClassTemplate, rangeStart, rangeEnd daykey.Key, holidays []models.Holiday) int {
	if tpl.DayOfWeek == nil || rangeEnd.Before(rangeStart) {
		return 0
	}
	excluded := holidayPredicate(holidays, tpl)
	count := 0
	day := nextOnOrAfter(rangeStart, *tpl.DayOfWeek)
	for steps := 0; steps < maxOccurrenceScan && !day.After(rangeEnd); steps++ {
		if tpl.EndDate != nil && day.After(*tpl.EndDate) {
			break
		}
		if excluded(day) {
			count++
		}
		day = day.AddDays(7)
	}
	return count
}

// mergedWalker interleaves several per-template walkers into one
// chronological stream of occurrences, for enrolments assigned to more
// than one weekly slot.
type mergedWalker struct {
	walkers []*occurrenceWalker
}

func newMergedWalker(templates []models.ClassTemplate, from daykey.Key, holidays []models.Holiday, cancellations []models.ClassCancellation) *mergedWalker {
	cancelled := cancellationSet(cancellations)
	m := &mergedWalker{}
	for _, tpl := range templates {
		if w := newOccurrenceWalker(tpl, from, holidays, cancelled[tpl.ID]); w != nil {
			m.walkers = append(m.walkers, w)
		}
	}
	return m
}

// next returns the chronologically next occurrence across all templates.
// Ties on the same date resolve by walker order (assignment order), each
// counting as its own session.
func (m *mergedWalker) next() (models.OccurrenceRef, bool) {
	var best *occurrenceWalker
	var bestDay daykey.Key
	for _, w := range m.walkers {
		day, ok := w.peek()
		if !ok {
			continue
		}
		if best == nil || day.Before(bestDay) {
			best = w
			bestDay = day
		}
	}
	if best == nil {
		return models.OccurrenceRef{}, false
	}
	best.consume()
	return models.OccurrenceRef{TemplateID: best.template.ID, Date: bestDay}, true
}
