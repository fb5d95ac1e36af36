package domain

import "time"

// PatientSummary is the denormalized view written into Patient resource
// extensions. It is authoritatively derivable from the current observation
// set, so it exists solely for query performance and can always be rebuilt.
type PatientSummary struct {
	WorstTier              FragilityTier
	HighestPriorityScore   int
	DaysUntilEarliestRunout int
	HasEarliestRunout      bool // false when no medication-level observation exists
	PDCByMeasure           map[MAMeasure]float64
	LastUpdated            time.Time
}

// NewPatientSummary returns an empty summary ready for aggregation.
func NewPatientSummary() PatientSummary {
	return PatientSummary{
		WorstTier:    Compliant,
		PDCByMeasure: make(map[MAMeasure]float64),
	}
}
