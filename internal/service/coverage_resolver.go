package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/lanekeeper/swim-ops-api/internal/models"
	"github.com/lanekeeper/swim-ops-api/pkg/daykey"
	appErrors "github.com/lanekeeper/swim-ops-api/pkg/errors"
)

// CoverageInput bundles everything the resolver needs. It is a pure value:
// the resolver never touches the database, so invoice issuance and the
// sweep can both feed it from whatever read they already hold.
type CoverageInput struct {
	Enrolment     models.Enrolment
	Plan          models.EnrolmentPlan
	Templates     []models.ClassTemplate
	Holidays      []models.Holiday
	Cancellations []models.ClassCancellation

	// Today overrides the resolver clock, mostly for tests and previews.
	Today daykey.Key

	// CustomBlockLength overrides the plan's block size for administrative
	// blocks. Must be at least the plan's declared count; never shorter.
	CustomBlockLength int
}

// CoverageResolver computes paid-coverage windows for both billing types.
// All methods are pure given their input; the only ambient state is the
// clock and the business timezone.
type CoverageResolver struct {
	loc *time.Location
	now func() time.Time
}

// NewCoverageResolver constructs a resolver pinned to the business zone.
func NewCoverageResolver(loc *time.Location) *CoverageResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &CoverageResolver{loc: loc, now: time.Now}
}

func (r *CoverageResolver) today(in CoverageInput) daykey.Key {
	if !in.Today.IsZero() {
		return in.Today
	}
	return daykey.FromTime(r.now(), r.loc)
}

// candidateStart is the first day the next window may cover: never in the
// past, never before the enrolment starts, and never inside an already
// paid window.
func (r *CoverageResolver) candidateStart(in CoverageInput) daykey.Key {
	candidate := daykey.Max(r.today(in), in.Enrolment.StartDate)
	if paid := in.Enrolment.PaidThroughDate; paid != nil && !paid.IsZero() {
		candidate = daykey.Max(candidate, paid.AddDays(1))
	}
	return candidate
}

// weeklyTemplates selects the schedule slots that participate in a weekly
// window: assigned templates with a weekly day, deterministically ordered
// by day-of-week so the same enrolment always resolves the same subset.
func weeklyTemplates(templates []models.ClassTemplate, sessionsPerWeek int) []models.ClassTemplate {
	out := make([]models.ClassTemplate, 0, len(templates))
	for _, tpl := range templates {
		if tpl.DayOfWeek != nil {
			out = append(out, tpl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].DayOfWeek < *out[j].DayOfWeek
	})
	if sessionsPerWeek > 0 && len(out) > sessionsPerWeek {
		out = out[:sessionsPerWeek]
	}
	return out
}

// walkWindow consumes up to count occurrences across the given templates
// starting at candidate and returns the window they span. A nil holiday
// slice produces the holiday-free baseline used for paidThroughDate.
func walkWindow(templates []models.ClassTemplate, candidate daykey.Key, count int, holidays []models.Holiday, cancellations []models.ClassCancellation, endLimit *daykey.Key) (start, end *daykey.Key, consumed int) {
	walker := newMergedWalker(templates, candidate, holidays, cancellations)
	for consumed < count {
		ref, ok := walker.next()
		if !ok {
			break
		}
		if endLimit != nil && !endLimit.IsZero() && ref.Date.After(*endLimit) {
			break
		}
		d := ref.Date
		if start == nil {
			start = &d
		}
		end = &d
		consumed++
	}
	return start, end, consumed
}

// resolveWeeklyFrom computes one weekly window beginning at candidate.
func (r *CoverageResolver) resolveWeeklyFrom(in CoverageInput, candidate daykey.Key) (models.CoverageWindow, error) {
	plan := in.Plan
	if plan.DurationWeeks <= 0 {
		return models.CoverageWindow{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s has non-positive duration_weeks", plan.ID))
	}
	if plan.SessionsPerWeek <= 0 {
		return models.CoverageWindow{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s has non-positive sessions_per_week", plan.ID))
	}

	templates := weeklyTemplates(in.Templates, plan.SessionsPerWeek)
	entitlement := plan.DurationWeeks * plan.SessionsPerWeek

	if len(templates) == 0 {
		// No weekly schedule to walk. Fall back to a plain calendar
		// window so the enrolment still gets a paid-through date.
		end := candidate.AddDays(plan.DurationWeeks*7 - 1)
		return models.CoverageWindow{Start: &candidate, End: &end, EndBase: &end}, nil
	}

	start, end, consumed := walkWindow(templates, candidate, entitlement, in.Holidays, in.Cancellations, in.Enrolment.EndDate)
	if consumed == 0 {
		// Everything remaining is past the enrolment end. Collapsed
		// window: the caller records nothing.
		return models.CoverageWindow{}, nil
	}

	_, endBase, _ := walkWindow(templates, candidate, entitlement, nil, nil, in.Enrolment.EndDate)

	return models.CoverageWindow{Start: start, End: end, EndBase: endBase, Sessions: consumed}, nil
}

// ResolveWeeklyWindow computes the next paid window for a weekly plan,
// skipping holidays and cancelled classes so every paid week is a week
// the student can actually swim.
func (r *CoverageResolver) ResolveWeeklyWindow(in CoverageInput) (models.CoverageWindow, error) {
	if !in.Plan.IsWeekly() {
		return models.CoverageWindow{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s is not billed per week", in.Plan.ID))
	}
	return r.resolveWeeklyFrom(in, r.candidateStart(in))
}

// ResolveWeeklyPayAheadSequence chains quantity weekly windows end to end.
// Each period starts the day after the previous one finishes, so paying
// for three terms up front covers three contiguous holiday-adjusted terms.
func (r *CoverageResolver) ResolveWeeklyPayAheadSequence(in CoverageInput, quantity int) (models.PayAheadSequence, error) {
	if quantity <= 0 {
		quantity = 1
	}
	if !in.Plan.IsWeekly() {
		return models.PayAheadSequence{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s is not billed per week", in.Plan.ID))
	}

	seq := models.PayAheadSequence{}
	candidate := r.candidateStart(in)
	for i := 0; i < quantity; i++ {
		window, err := r.resolveWeeklyFrom(in, candidate)
		if err != nil {
			return models.PayAheadSequence{}, err
		}
		if window.Collapsed() {
			break
		}
		if seq.Start == nil {
			seq.Start = window.Start
		}
		seq.End = window.End
		seq.Windows = append(seq.Windows, window)
		seq.Periods++
		candidate = window.End.AddDays(1)
	}
	return seq, nil
}

// blockCount validates and resolves the number of classes one block buys.
func blockCount(plan models.EnrolmentPlan, custom int) (int, error) {
	count := plan.BlockClassCount
	if custom > 0 {
		if custom < plan.BlockClassCount {
			return 0, appErrors.Clone(appErrors.ErrConfiguration,
				fmt.Sprintf("custom block length %d is below the plan minimum %d", custom, plan.BlockClassCount))
		}
		count = custom
	}
	if count <= 0 {
		return 0, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s has non-positive block_class_count", plan.ID))
	}
	return count, nil
}

// ResolveBlockWindow computes the paid window for one block of classes:
// coverage runs to the occurrence at which the final class of the block is
// consumed, walked on the enrolment's anchor template.
func (r *CoverageResolver) ResolveBlockWindow(in CoverageInput) (models.CoverageWindow, error) {
	return r.resolveBlockWindow(in, 1)
}

func (r *CoverageResolver) resolveBlockWindow(in CoverageInput, quantity int) (models.CoverageWindow, error) {
	if !in.Plan.IsBlock() {
		return models.CoverageWindow{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s does not sell class blocks", in.Plan.ID))
	}
	count, err := blockCount(in.Plan, in.CustomBlockLength)
	if err != nil {
		return models.CoverageWindow{}, err
	}
	if quantity <= 0 {
		quantity = 1
	}

	// The anchor is the first assigned template with a weekly day. Block
	// enrolments usually carry exactly one slot; extras are ignored here
	// because the block is sold against a single class.
	var anchor *models.ClassTemplate
	for i := range in.Templates {
		if in.Templates[i].DayOfWeek != nil {
			anchor = &in.Templates[i]
			break
		}
	}
	if anchor == nil {
		return models.CoverageWindow{}, nil
	}

	candidate := r.candidateStart(in)
	anchors := []models.ClassTemplate{*anchor}
	start, end, consumed := walkWindow(anchors, candidate, count*quantity, in.Holidays, in.Cancellations, in.Enrolment.EndDate)
	if consumed == 0 {
		return models.CoverageWindow{}, nil
	}
	_, endBase, _ := walkWindow(anchors, candidate, count*quantity, nil, nil, in.Enrolment.EndDate)

	return models.CoverageWindow{Start: start, End: end, EndBase: endBase, Sessions: consumed}, nil
}

// ResolveCreditsPurchased computes how many class credits an invoice grants
// for a block plan. already is the credit total previously recorded against
// the same invoice; the result never shrinks below it, so retried webhooks
// and edited invoices cannot claw back credits the ledger already holds.
func (r *CoverageResolver) ResolveCreditsPurchased(plan models.EnrolmentPlan, quantity int, already int, customBlockLength int) (int, error) {
	if !plan.IsBlock() {
		return 0, nil
	}
	count, err := blockCount(plan, customBlockLength)
	if err != nil {
		return 0, err
	}
	if quantity <= 0 {
		quantity = 1
	}
	credits := count * quantity
	if credits < already {
		credits = already
	}
	return credits, nil
}

// ResolveCoverageForPlan dispatches on the plan's billing type and returns
// the full coverage outcome for an invoice line of the given quantity.
func (r *CoverageResolver) ResolveCoverageForPlan(in CoverageInput, quantity int, alreadyRecorded int) (models.CoverageResult, error) {
	switch {
	case in.Plan.IsWeekly():
		seq, err := r.ResolveWeeklyPayAheadSequence(in, quantity)
		if err != nil {
			return models.CoverageResult{}, err
		}
		window := models.CoverageWindow{Start: seq.Start, End: seq.End}
		for _, w := range seq.Windows {
			window.EndBase = w.EndBase
			window.Sessions += w.Sessions
		}
		return models.CoverageResult{Window: window}, nil
	case in.Plan.IsBlock():
		window, err := r.resolveBlockWindow(in, quantity)
		if err != nil {
			return models.CoverageResult{}, err
		}
		credits, err := r.ResolveCreditsPurchased(in.Plan, quantity, alreadyRecorded, in.CustomBlockLength)
		if err != nil {
			return models.CoverageResult{}, err
		}
		return models.CoverageResult{Window: window, CreditsPurchased: credits}, nil
	case in.Plan.BillingType == models.BillingPerClass:
		// Open class pass: each unit buys one credit, no date window.
		if quantity <= 0 {
			quantity = 1
		}
		credits := quantity
		if credits < alreadyRecorded {
			credits = alreadyRecorded
		}
		return models.CoverageResult{CreditsPurchased: credits}, nil
	default:
		return models.CoverageResult{}, appErrors.Clone(appErrors.ErrConfiguration,
			fmt.Sprintf("plan %s has unknown billing type %q", in.Plan.ID, in.Plan.BillingType))
	}
}

// coverageTemplates picks the templates the plan's coverage walk runs on:
// the weekly subset for PER_WEEK plans, the single anchor for blocks.
func coverageTemplates(in CoverageInput) []models.ClassTemplate {
	if in.Plan.IsWeekly() {
		return weeklyTemplates(in.Templates, in.Plan.SessionsPerWeek)
	}
	for i := range in.Templates {
		if in.Templates[i].DayOfWeek != nil {
			return in.Templates[i : i+1]
		}
	}
	return nil
}

// ProjectComputedEnd recomputes the holiday and cancellation adjusted
// paid-through projection from the authoritative paid-through date.
//
// The projection is a pure function of the enrolment's schedule, its
// nominal paid span and the current exclusion set: the number of sessions
// the student has paid for equals the scheduled occurrences between the
// enrolment start and the nominal paid-through date, and the projection is
// the date on which that many swimmable occurrences have actually run.
// Re-running it after any holiday change converges on the same answer, so
// the recompute sweep can apply it blindly.
func (r *CoverageResolver) ProjectComputedEnd(in CoverageInput) *daykey.Key {
	paid := in.Enrolment.PaidThroughDate
	if paid == nil || paid.IsZero() {
		return nil
	}
	templates := coverageTemplates(in)
	if len(templates) == 0 {
		d := *paid
		return &d
	}

	entitled := 0
	base := newMergedWalker(templates, in.Enrolment.StartDate, nil, nil)
	for {
		ref, ok := base.next()
		if !ok || ref.Date.After(*paid) {
			break
		}
		entitled++
	}
	if entitled == 0 {
		d := *paid
		return &d
	}

	var end daykey.Key
	adjusted := newMergedWalker(templates, in.Enrolment.StartDate, in.Holidays, in.Cancellations)
	for i := 0; i < entitled; i++ {
		ref, ok := adjusted.next()
		if !ok {
			break
		}
		end = ref.Date
	}
	if end.IsZero() {
		d := *paid
		return &d
	}
	return &end
}

// CountHolidayOccurrences reports how many scheduled classes inside the
// window fall on a holiday that applies to the enrolment's templates. Each
// calendar date counts once per template no matter how many holiday ranges
// cover it.
func (r *CoverageResolver) CountHolidayOccurrences(in CoverageInput, windowStart, windowEnd daykey.Key) int {
	total := 0
	for _, tpl := range in.Templates {
		total += countHolidayOccurrences(tpl, windowStart, windowEnd, in.Holidays)
	}
	return total
}
