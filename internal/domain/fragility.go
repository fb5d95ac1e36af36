package domain

// FragilityTier stratifies a patient-measure's adherence risk into one of
// seven buckets. Exactly one tier is returned per classification call.
type FragilityTier string

const (
	Compliant        FragilityTier = "COMPLIANT"
	F1Imminent       FragilityTier = "F1_IMMINENT"
	F2Fragile        FragilityTier = "F2_FRAGILE"
	F3Moderate       FragilityTier = "F3_MODERATE"
	F4Comfortable    FragilityTier = "F4_COMFORTABLE"
	F5Safe           FragilityTier = "F5_SAFE"
	T5Unsalvageable  FragilityTier = "T5_UNSALVAGEABLE"
)

// tierSeverity orders tiers from most to least severe for worst-tier
// aggregation. F1 indicates active imminent risk; T5 is "lost" but not
// actionable-urgent, so it ranks below the actionable F-tiers.
var tierSeverity = map[FragilityTier]int{
	F1Imminent:      6,
	F2Fragile:       5,
	F3Moderate:      4,
	F4Comfortable:   3,
	F5Safe:          2,
	T5Unsalvageable: 1,
	Compliant:       0,
}

// MoreSevere reports whether tier a outranks tier b in the worst-tier
// aggregation ordering.
func (t FragilityTier) MoreSevere(other FragilityTier) bool {
	return tierSeverity[t] > tierSeverity[other]
}

// UrgencyLevel buckets a priority score for display/alerting.
type UrgencyLevel string

const (
	UrgencyExtreme  UrgencyLevel = "EXTREME"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyModerate UrgencyLevel = "MODERATE"
	UrgencyLow      UrgencyLevel = "LOW"
)

// FragilityBonuses records which priority-score bonuses applied, for
// telemetry and UI explanation.
type FragilityBonuses struct {
	OutOfMeds   bool
	Q4          bool
	MultiMeasure bool
	NewPatient  bool
}

// FragilityFlags summarizes boolean classification outcomes.
type FragilityFlags struct {
	IsCompliant     bool
	IsUnsalvageable bool
	Q4Tightened     bool
}

// FragilityResult is the output of the Fragility Classifier.
type FragilityResult struct {
	Tier               FragilityTier
	PriorityScore      int
	UrgencyLevel       UrgencyLevel
	DelayBudgetPerRefill float64
	ContactWindow      string
	Flags              FragilityFlags
	Bonuses            FragilityBonuses
}
