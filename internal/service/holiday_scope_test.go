package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
)

func scopedTemplate(id string, levelID *string) models.ClassTemplate {
	return models.ClassTemplate{ID: id, LevelID: levelID, DayOfWeek: intPtr(0)}
}

func TestHolidayAppliesToTemplateScopePrecedence(t *testing.T) {
	level := "level-1"
	otherLevel := "level-2"
	tpl := scopedTemplate("tpl-1", &level)

	cases := []struct {
		name    string
		holiday models.Holiday
		want    bool
	}{
		{"global applies everywhere", models.Holiday{}, true},
		{"template scope matches", models.Holiday{TemplateID: strPtr("tpl-1")}, true},
		{"template scope excludes others", models.Holiday{TemplateID: strPtr("tpl-2")}, false},
		{"level scope matches", models.Holiday{LevelID: &level}, true},
		{"level scope excludes others", models.Holiday{LevelID: &otherLevel}, false},
		// Template scope wins even when the level would also match.
		{"template scope overrides level", models.Holiday{TemplateID: strPtr("tpl-2"), LevelID: &level}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, holidayAppliesToTemplate(tc.holiday, tpl))
		})
	}
}

func TestHolidayAppliesToTemplateWithoutLevel(t *testing.T) {
	level := "level-1"
	tpl := scopedTemplate("tpl-1", nil)
	assert.False(t, holidayAppliesToTemplate(models.Holiday{LevelID: &level}, tpl))
	assert.True(t, holidayAppliesToTemplate(models.Holiday{}, tpl))
}

func TestHolidayIncludesBoundaries(t *testing.T) {
	h := globalHoliday("2025-01-13", "2025-01-17")
	assert.True(t, holidayIncludes(h, daykey.MustParse("2025-01-13")))
	assert.True(t, holidayIncludes(h, daykey.MustParse("2025-01-17")))
	assert.False(t, holidayIncludes(h, daykey.MustParse("2025-01-12")))
	assert.False(t, holidayIncludes(h, daykey.MustParse("2025-01-18")))
}

func TestHolidayPredicateMergesRanges(t *testing.T) {
	tpl := scopedTemplate("tpl-1", nil)
	pred := holidayPredicate([]models.Holiday{
		globalHoliday("2025-01-13", "2025-01-14"),
		globalHoliday("2025-01-14", "2025-01-16"),
	}, tpl)
	assert.True(t, pred(daykey.MustParse("2025-01-13")))
	assert.True(t, pred(daykey.MustParse("2025-01-14")))
	assert.True(t, pred(daykey.MustParse("2025-01-16")))
	assert.False(t, pred(daykey.MustParse("2025-01-17")))
}

func TestCancellationSetGroupsByTemplate(t *testing.T) {
	set := cancellationSet([]models.ClassCancellation{
		{ID: "c1", TemplateID: "tpl-1", Date: daykey.MustParse("2025-01-06")},
		{ID: "c2", TemplateID: "tpl-1", Date: daykey.MustParse("2025-01-13")},
		{ID: "c3", TemplateID: "tpl-2", Date: daykey.MustParse("2025-01-06")},
	})
	assert.True(t, set["tpl-1"][daykey.MustParse("2025-01-06")])
	assert.True(t, set["tpl-1"][daykey.MustParse("2025-01-13")])
	assert.True(t, set["tpl-2"][daykey.MustParse("2025-01-06")])
	assert.False(t, set["tpl-2"][daykey.MustParse("2025-01-13")])
}
