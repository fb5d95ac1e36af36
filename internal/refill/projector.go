// Package refill computes per-medication operational metrics: supply on
// hand, expected refill cadence, and projected coverage shortfall. Pure
// function, no I/O.
package refill

import (
	"sort"
	"time"

	"github.com/carepath/pdc-engine/internal/domain"
)

// Input bundles the arguments to Project.
type Input struct {
	RxNorm           string
	Display          string
	Fills            []domain.FillRecord
	CurrentDate      time.Time
	RefillsRemaining int
	TreatmentEnd     time.Time
}

// Project computes a MedicationProjection for one medication's fill history.
// An empty fill list returns a zero-value projection.
func Project(in Input) domain.MedicationProjection {
	if len(in.Fills) == 0 {
		return domain.MedicationProjection{RxNorm: in.RxNorm, Display: in.Display}
	}

	lastFill := in.Fills[0]
	for _, f := range in.Fills[1:] {
		if f.FillDate.After(lastFill.FillDate) {
			lastFill = f
		}
	}

	estimatedDaysPerRefill := medianDaysSupply(in.Fills)

	runoutDate := lastFill.FillDate.AddDate(0, 0, lastFill.DaysSupply)
	rawDaysUntilRunout := daysBetween(in.CurrentDate, runoutDate)

	supplyOnHand := rawDaysUntilRunout
	if supplyOnHand < 0 {
		supplyOnHand = 0
	}

	daysRemainingInPeriod := daysBetween(in.CurrentDate, in.TreatmentEnd) + 1
	projectedSupply := float64(supplyOnHand) + float64(in.RefillsRemaining)*estimatedDaysPerRefill
	shortfall := float64(daysRemainingInPeriod) - projectedSupply
	if shortfall < 0 {
		shortfall = 0
	}

	return domain.MedicationProjection{
		RxNorm:                 in.RxNorm,
		Display:                in.Display,
		RemainingRefills:       in.RefillsRemaining,
		SupplyOnHand:           supplyOnHand,
		EstimatedDaysPerRefill: estimatedDaysPerRefill,
		CoverageShortfall:      int(shortfall),
		DaysUntilRunout:        rawDaysUntilRunout,
		LastFillDate:           lastFill.FillDate,
	}
}

// medianDaysSupply returns the median daysSupply across fills, chosen over
// the mean to resist distortion from a single outlier fill.
func medianDaysSupply(fills []domain.FillRecord) float64 {
	values := make([]int, len(fills))
	for i, f := range fills {
		values[i] = f.DaysSupply
	}
	sort.Ints(values)

	n := len(values)
	if n%2 == 1 {
		return float64(values[n/2])
	}
	return float64(values[n/2-1]+values[n/2]) / 2.0
}

func daysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}
