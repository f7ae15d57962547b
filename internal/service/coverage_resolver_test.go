package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func keyPtr(v string) *daykey.Key {
	k := daykey.MustParse(v)
	return &k
}

func mondayTemplate(id string) models.ClassTemplate {
	return models.ClassTemplate{ID: id, LevelID: strPtr("level-1"), DayOfWeek: intPtr(0), Capacity: 10}
}

func weeklyPlan(weeks, sessions int) models.EnrolmentPlan {
	return models.EnrolmentPlan{
		ID:              "plan-weekly",
		BillingType:     models.BillingPerWeek,
		DurationWeeks:   weeks,
		SessionsPerWeek: sessions,
	}
}

func blockPlan(count int) models.EnrolmentPlan {
	return models.EnrolmentPlan{
		ID:              "plan-block",
		BillingType:     models.BillingPerClass,
		EnrolmentType:   models.EnrolmentTypeBlock,
		BlockClassCount: count,
	}
}

func globalHoliday(start, end string) models.Holiday {
	return models.Holiday{
		ID:        "hol-" + start,
		Name:      "closure",
		StartDate: daykey.MustParse(start),
		EndDate:   daykey.MustParse(end),
	}
}

func resolverFixture() *CoverageResolver {
	loc, _ := time.LoadLocation("Australia/Brisbane")
	return NewCoverageResolver(loc)
}

func TestCoverageResolverWeeklyWindowNoHolidays(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(4, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	require.False(t, window.Collapsed())
	assert.Equal(t, daykey.MustParse("2025-01-06"), *window.Start)
	assert.Equal(t, daykey.MustParse("2025-01-27"), *window.End)
	assert.Equal(t, daykey.MustParse("2025-01-27"), *window.EndBase)
	assert.Equal(t, 4, window.Sessions)
}

func TestCoverageResolverWeeklyWindowSkipsHoliday(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(4, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Holidays:  []models.Holiday{globalHoliday("2025-01-13", "2025-01-13")},
		Today:     daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	// The holiday Monday does not count; the fourth swimmable Monday is a
	// week later than the nominal end.
	assert.Equal(t, daykey.MustParse("2025-02-03"), *window.End)
	assert.Equal(t, daykey.MustParse("2025-01-27"), *window.EndBase)
	assert.Equal(t, 4, window.Sessions)
}

func TestCoverageResolverWeeklyWindowSkipsCancellation(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Cancellations: []models.ClassCancellation{
			{ID: "cxl-1", TemplateID: "tpl-1", Date: daykey.MustParse("2025-01-06")},
		},
		Today: daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	assert.Equal(t, daykey.MustParse("2025-01-13"), *window.Start)
	assert.Equal(t, daykey.MustParse("2025-01-20"), *window.End)
}

func TestCoverageResolverWeeklyWindowStartsAfterPaidThrough(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{
			StartDate:       daykey.MustParse("2025-01-06"),
			PaidThroughDate: keyPtr("2025-01-27"),
		},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	assert.Equal(t, daykey.MustParse("2025-02-03"), *window.Start)
	assert.Equal(t, daykey.MustParse("2025-02-10"), *window.End)
}

func TestCoverageResolverWeeklyTwoSessionsPerWeek(t *testing.T) {
	r := resolverFixture()
	thursday := models.ClassTemplate{ID: "tpl-2", DayOfWeek: intPtr(3), Capacity: 10}
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 2),
		Templates: []models.ClassTemplate{thursday, mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	// Mon 6, Thu 9, Mon 13, Thu 16: four sessions over two weeks.
	assert.Equal(t, daykey.MustParse("2025-01-06"), *window.Start)
	assert.Equal(t, daykey.MustParse("2025-01-16"), *window.End)
	assert.Equal(t, 4, window.Sessions)
}

func TestCoverageResolverWeeklyCollapsesPastEnrolmentEnd(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{
			StartDate: daykey.MustParse("2025-01-06"),
			EndDate:   keyPtr("2025-01-31"),
		},
		Plan:      weeklyPlan(4, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-02-10"),
	})
	require.NoError(t, err)
	assert.True(t, window.Collapsed())
	assert.Equal(t, 0, window.Sessions)
}

func TestCoverageResolverWeeklyNoScheduleFallsBackToCalendar(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveWeeklyWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(4, 1),
		Today:     daykey.MustParse("2025-01-06"),
	})
	require.NoError(t, err)
	require.False(t, window.Collapsed())
	assert.Equal(t, daykey.MustParse("2025-01-06"), *window.Start)
	assert.Equal(t, daykey.MustParse("2025-02-02"), *window.End)
}

func TestCoverageResolverWeeklyRejectsBadPlan(t *testing.T) {
	r := resolverFixture()
	in := CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(0, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-01-06"),
	}
	_, err := r.ResolveWeeklyWindow(in)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConfiguration.Code))

	in.Plan = weeklyPlan(4, 0)
	_, err = r.ResolveWeeklyWindow(in)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConfiguration.Code))
}

func TestCoverageResolverPayAheadChainsContiguously(t *testing.T) {
	r := resolverFixture()
	seq, err := r.ResolveWeeklyPayAheadSequence(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Holidays:  []models.Holiday{globalHoliday("2025-01-13", "2025-01-13")},
		Today:     daykey.MustParse("2025-01-06"),
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Periods)
	require.Len(t, seq.Windows, 3)
	// Jan 13 is skipped: first period covers Jan 6 and Jan 20.
	assert.Equal(t, daykey.MustParse("2025-01-06"), *seq.Start)
	assert.Equal(t, daykey.MustParse("2025-01-20"), *seq.Windows[0].End)
	// Each later period starts strictly after the previous one ends.
	for i := 1; i < len(seq.Windows); i++ {
		assert.True(t, seq.Windows[i].Start.After(*seq.Windows[i-1].End))
	}
	assert.Equal(t, daykey.MustParse("2025-02-17"), *seq.End)
}

func TestCoverageResolverPayAheadMatchesSequentialSingleWindows(t *testing.T) {
	r := resolverFixture()
	in := CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Holidays: []models.Holiday{
			globalHoliday("2025-01-13", "2025-01-13"),
			// Overlapping ranges; the shared Mondays are excluded once.
			globalHoliday("2025-02-01", "2025-02-28"),
			globalHoliday("2025-02-10", "2025-02-17"),
		},
		Today: daykey.MustParse("2025-01-06"),
	}

	seq, err := r.ResolveWeeklyPayAheadSequence(in, 4)
	require.NoError(t, err)
	require.Equal(t, 4, seq.Periods)
	require.NotNil(t, seq.End)

	// Paying for four periods at once must land exactly where four
	// single-period payments land, each fed the previous end as the new
	// paid-through date.
	chained := in
	var last *daykey.Key
	for i := 0; i < 4; i++ {
		window, err := r.ResolveWeeklyWindow(chained)
		require.NoError(t, err)
		require.NotNil(t, window.End)
		last = window.End
		chained.Enrolment.PaidThroughDate = window.End
	}
	assert.Equal(t, *seq.End, *last)
}

func TestCoverageResolverBlockWindow(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveBlockWindow(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2026-02-02")},
		Plan:      blockPlan(8),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2026-02-02"),
	})
	require.NoError(t, err)
	require.False(t, window.Collapsed())
	assert.Equal(t, daykey.MustParse("2026-02-02"), *window.Start)
	// Eighth Monday on or after Feb 2.
	assert.Equal(t, daykey.MustParse("2026-03-23"), *window.End)
	assert.Equal(t, 8, window.Sessions)
}

func TestCoverageResolverBlockWindowAfterPaidThrough(t *testing.T) {
	r := resolverFixture()
	window, err := r.ResolveBlockWindow(CoverageInput{
		Enrolment: models.Enrolment{
			StartDate:       daykey.MustParse("2026-02-02"),
			PaidThroughDate: keyPtr("2026-03-02"),
		},
		Plan:      blockPlan(8),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2026-02-02"),
	})
	require.NoError(t, err)
	// First uncovered Monday is Mar 9; the eighth lands on Apr 27.
	assert.Equal(t, daykey.MustParse("2026-03-09"), *window.Start)
	assert.Equal(t, daykey.MustParse("2026-04-27"), *window.End)
}

func TestCoverageResolverBlockCustomLength(t *testing.T) {
	r := resolverFixture()
	in := CoverageInput{
		Enrolment:         models.Enrolment{StartDate: daykey.MustParse("2026-02-02")},
		Plan:              blockPlan(8),
		Templates:         []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:             daykey.MustParse("2026-02-02"),
		CustomBlockLength: 10,
	}
	window, err := r.ResolveBlockWindow(in)
	require.NoError(t, err)
	assert.Equal(t, 10, window.Sessions)

	in.CustomBlockLength = 4
	_, err = r.ResolveBlockWindow(in)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConfiguration.Code))
}

func TestCoverageResolverCreditsPurchasedClamp(t *testing.T) {
	r := resolverFixture()

	credits, err := r.ResolveCreditsPurchased(blockPlan(8), 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 16, credits)

	// A second application for the same invoice with a lower quantity
	// never shrinks what the ledger already recorded.
	credits, err = r.ResolveCreditsPurchased(blockPlan(8), 1, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, 16, credits)
}

func TestCoverageResolverCoverageForPlanWeekly(t *testing.T) {
	r := resolverFixture()
	result, err := r.ResolveCoverageForPlan(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Today:     daykey.MustParse("2025-01-06"),
	}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CreditsPurchased)
	assert.Equal(t, daykey.MustParse("2025-01-06"), *result.Window.Start)
	assert.Equal(t, daykey.MustParse("2025-01-27"), *result.Window.End)
	assert.Equal(t, 4, result.Window.Sessions)
}

func TestCoverageResolverCoverageForPlanOpenPass(t *testing.T) {
	r := resolverFixture()
	result, err := r.ResolveCoverageForPlan(CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan: models.EnrolmentPlan{
			ID:            "plan-open",
			BillingType:   models.BillingPerClass,
			EnrolmentType: models.EnrolmentTypeClass,
		},
		Today: daykey.MustParse("2025-01-06"),
	}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, result.CreditsPurchased)
	assert.True(t, result.Window.Collapsed())
}

func TestCoverageResolverCountHolidayOccurrences(t *testing.T) {
	r := resolverFixture()
	in := CoverageInput{
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
	}
	start := daykey.MustParse("2025-01-06")
	end := daykey.MustParse("2025-01-27")

	in.Holidays = []models.Holiday{globalHoliday("2025-01-13", "2025-01-13")}
	assert.Equal(t, 1, r.CountHolidayOccurrences(in, start, end))

	in.Holidays = []models.Holiday{
		globalHoliday("2025-01-13", "2025-01-13"),
		globalHoliday("2025-01-20", "2025-01-20"),
	}
	assert.Equal(t, 2, r.CountHolidayOccurrences(in, start, end))

	// Overlapping ranges covering the same Monday count it once.
	in.Holidays = []models.Holiday{
		globalHoliday("2025-01-18", "2025-01-21"),
		globalHoliday("2025-01-20", "2025-01-24"),
	}
	assert.Equal(t, 1, r.CountHolidayOccurrences(in, start, end))

	// A holiday touching no scheduled day counts nothing.
	in.Holidays = []models.Holiday{globalHoliday("2025-01-19", "2025-01-19")}
	assert.Equal(t, 0, r.CountHolidayOccurrences(in, start, end))
}

func TestCoverageResolverScopedHoliday(t *testing.T) {
	r := resolverFixture()
	other := "tpl-other"
	in := CoverageInput{
		Enrolment: models.Enrolment{StartDate: daykey.MustParse("2025-01-06")},
		Plan:      weeklyPlan(2, 1),
		Templates: []models.ClassTemplate{mondayTemplate("tpl-1")},
		Holidays: []models.Holiday{{
			ID:         "hol-scoped",
			StartDate:  daykey.MustParse("2025-01-13"),
			EndDate:    daykey.MustParse("2025-01-13"),
			TemplateID: &other,
		}},
		Today: daykey.MustParse("2025-01-06"),
	}
	window, err := r.ResolveWeeklyWindow(in)
	require.NoError(t, err)
	// Scoped to a different template, so it does not push the window.
	assert.Equal(t, daykey.MustParse("2025-01-13"), *window.End)
}
