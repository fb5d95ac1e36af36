package domain

import "time"

// MedicationProjection is the Refill Projector's per-medication operational
// assessment: supply-on-hand, expected cadence, and any projected shortfall.
type MedicationProjection struct {
	RxNorm                 string
	Display                string
	RemainingRefills       int
	SupplyOnHand           int // days
	EstimatedDaysPerRefill float64
	CoverageShortfall      int // days, 0 if none
	DaysUntilRunout        int // signed; negative = days since runout
	LastFillDate           time.Time
}

// IsOutOfMeds reports the priority-bonus trigger: supply has already run out.
func (p MedicationProjection) IsOutOfMeds() bool {
	return p.DaysUntilRunout <= 0
}
