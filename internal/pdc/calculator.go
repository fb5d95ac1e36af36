// Package pdc implements the HEDIS interval-merge Proportion of Days
// Covered calculation. Every function here is pure: no I/O, no wall-clock
// reads, deterministic given its inputs so archived dispenses replay to
// bit-identical results.
package pdc

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carepath/pdc-engine/internal/domain"
)

// Calculator computes PDCResults under a configurable gap-days-allowed
// fraction (spec default 0.20, HEDIS's 80% threshold inverted).
type Calculator struct {
	GapDaysAllowedFraction float64
}

// NewCalculator builds a Calculator with the given gap-days-allowed
// fraction. A zero or negative fraction falls back to the spec default.
func NewCalculator(gapDaysAllowedFraction float64) *Calculator {
	if gapDaysAllowedFraction <= 0 {
		gapDaysAllowedFraction = 0.20
	}
	return &Calculator{GapDaysAllowedFraction: gapDaysAllowedFraction}
}

// Input bundles the arguments to CalculatePDC.
type Input struct {
	Fills           []domain.FillRecord
	MeasurementYear int
	// CurrentDate is "now", injected for deterministic testing. Zero value
	// defaults to the treatment period end, leaving at most one look-ahead
	// day (the period's last day) for PDCPerfect.
	CurrentDate time.Time
}

// CalculatePDC returns the PDCResult for one FillRecord set, plus any
// warnings raised while filtering invalid fills. An empty or fully-invalid
// fill list is a valid "no treatment period" result, not an error.
func (c *Calculator) CalculatePDC(in Input) (domain.PDCResult, []string) {
	var warnings []string

	valid := make([]domain.FillRecord, 0, len(in.Fills))
	for _, f := range in.Fills {
		if f.DaysSupply <= 0 {
			warnings = append(warnings, "dropped fill with invalid days supply")
			continue
		}
		valid = append(valid, f)
	}

	if len(valid) == 0 {
		return domain.PDCResult{}, warnings
	}

	sortFills(valid)

	treatmentStart := valid[0].FillDate
	treatmentEnd := domain.YearEnd(in.MeasurementYear)
	period := domain.TreatmentPeriod{Start: treatmentStart, End: treatmentEnd}

	if !period.IsValid() {
		warnings = append(warnings, "first fill after measurement year end, no treatment period")
		return domain.PDCResult{}, warnings
	}

	for i, f := range valid {
		if f.FillDate.Before(treatmentStart) || f.FillDate.After(treatmentEnd) {
			warnings = append(warnings, "clamped fill outside treatment period")
			valid[i].FillDate = clampDate(f.FillDate, treatmentStart, treatmentEnd)
		}
	}

	treatmentDays := period.Days()
	coveredDays, currentCoveredUntil := calculateCoveredDays(valid, treatmentEnd)
	if coveredDays > treatmentDays {
		coveredDays = treatmentDays
	}

	gapDaysUsed := treatmentDays - coveredDays
	gapDaysAllowed := gapDaysAllowedDays(treatmentDays, c.GapDaysAllowedFraction)
	gapDaysRemaining := gapDaysAllowed - gapDaysUsed

	currentDate := in.CurrentDate
	if currentDate.IsZero() {
		currentDate = treatmentEnd
	}

	pdcRatio := ratio(coveredDays, treatmentDays)
	perfectCovered := coveredDays + perfectLookaheadDays(currentDate, currentCoveredUntil, treatmentEnd)
	if perfectCovered > treatmentDays {
		perfectCovered = treatmentDays
	}

	return domain.PDCResult{
		PDC:              pdcRatio,
		CoveredDays:      coveredDays,
		TreatmentDays:    treatmentDays,
		GapDaysUsed:      gapDaysUsed,
		GapDaysAllowed:   gapDaysAllowed,
		GapDaysRemaining: gapDaysRemaining,
		PDCStatusQuo:     pdcRatio,
		PDCPerfect:       ratio(perfectCovered, treatmentDays),
		TreatmentPeriod:  period,
	}, warnings
}

// calculateCoveredDays merges fill coverage intervals against the treatment
// period, per spec §4.1. Fills are sorted by fillDate ascending (stable),
// ties broken by larger daysSupply first so the longer coverage absorbs a
// shorter overlapping fill started the same day. Returns the covered day
// count and the exclusive end of the final merged interval.
func calculateCoveredDays(fills []domain.FillRecord, periodEnd time.Time) (int, time.Time) {
	periodExclusiveEnd := periodEnd.AddDate(0, 0, 1)

	var currentCoveredUntil time.Time
	covered := 0

	for _, f := range fills {
		fillEnd := f.CoverageEnd()
		if fillEnd.After(periodExclusiveEnd) {
			fillEnd = periodExclusiveEnd
		}

		switch {
		case currentCoveredUntil.IsZero() || f.FillDate.After(currentCoveredUntil) || f.FillDate.Equal(currentCoveredUntil):
			covered += daysBetween(f.FillDate, fillEnd)
			currentCoveredUntil = fillEnd
		case fillEnd.After(currentCoveredUntil):
			covered += daysBetween(currentCoveredUntil, fillEnd)
			currentCoveredUntil = fillEnd
		default:
			// fully covered by an earlier, longer fill; contribute nothing
		}
	}

	return covered, currentCoveredUntil
}

// perfectLookaheadDays returns the additional days PDCPerfect may assume
// covered: continuous coverage from currentDate (or the end of actual
// coverage, whichever is later) through treatmentEnd.
func perfectLookaheadDays(currentDate, currentCoveredUntil, treatmentEnd time.Time) int {
	from := currentDate
	if currentCoveredUntil.After(from) {
		from = currentCoveredUntil
	}
	if from.After(treatmentEnd) {
		return 0
	}
	return daysBetween(from, treatmentEnd) + 1
}

func sortFills(fills []domain.FillRecord) {
	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].FillDate.Equal(fills[j].FillDate) {
			return fills[i].FillDate.Before(fills[j].FillDate)
		}
		return fills[i].DaysSupply > fills[j].DaysSupply
	})
}

func daysBetween(start, end time.Time) int {
	d := int(end.Sub(start).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func clampDate(d, min, max time.Time) time.Time {
	if d.Before(min) {
		return min
	}
	if d.After(max) {
		return max
	}
	return d
}

func ratio(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// gapDaysAllowedDays computes floor(treatmentDays * fraction) using
// decimal.Decimal so the HEDIS-audited arithmetic never drifts through
// binary float rounding at the day-count boundary.
func gapDaysAllowedDays(treatmentDays int, fraction float64) int {
	td := decimal.NewFromInt(int64(treatmentDays))
	f := decimal.NewFromFloat(fraction)
	allowed := td.Mul(f).Floor()
	return int(allowed.IntPart())
}
