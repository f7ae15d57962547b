package service

import (
	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

// holidayAppliesToTemplate resolves holiday scope with strict precedence:
// template-scoped beats level-scoped beats global. A holiday never applies
// outside its declared scope.
func holidayAppliesToTemplate(h models.Holiday, tpl models.ClassTemplate) bool {
	if h.TemplateID != nil {
		return *h.TemplateID == tpl.ID
	}
	if h.LevelID != nil {
		return tpl.LevelID != nil && *h.LevelID == *tpl.LevelID
	}
	return true
}

// holidayIncludes reports whether the holiday's inclusive range covers the
// given day.
func holidayIncludes(h models.Holiday, day daykey.Key) bool {
	return !day.Before(h.StartDate) && !day.After(h.EndDate)
}

// holidayPredicate builds a single exclusion predicate for one template
// from the full holiday set, so enumerating many occurrences does not
// re-resolve scope per date. Exclusion is set membership: overlapping
// ranges exclude a date once, never twice.
func holidayPredicate(holidays []models.Holiday, tpl models.ClassTemplate) func(daykey.Key) bool {
	applicable := make([]models.Holiday, 0, len(holidays))
	for _, h := range holidays {
		if holidayAppliesToTemplate(h, tpl) {
			applicable = append(applicable, h)
		}
	}
	if len(applicable) == 0 {
		return func(daykey.Key) bool { return false }
	}
	return func(day daykey.Key) bool {
		for _, h := range applicable {
			if holidayIncludes(h, day) {
				return true
			}
		}
		return false
	}
}

// cancellationSet indexes cancellations by template and date for O(1)
// exclusion checks.
func cancellationSet(cancellations []models.ClassCancellation) map[string]map[daykey.Key]bool {
	out := make(map[string]map[daykey.Key]bool)
	for _, c := range cancellations {
		byDate := out[c.TemplateID]
		if byDate == nil {
			byDate = make(map[daykey.Key]bool)
			out[c.TemplateID] = byDate
		}
		byDate[c.Date] = true
	}
	return out
}
