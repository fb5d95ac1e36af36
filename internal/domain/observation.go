package domain

import "time"

// ObservationCode identifies what a StoredObservation represents.
type ObservationCode string

const (
	ObsPDCMAC        ObservationCode = "pdc-mac"
	ObsPDCMAD        ObservationCode = "pdc-mad"
	ObsPDCMAH        ObservationCode = "pdc-mah"
	ObsPDCMedication ObservationCode = "pdc-medication"
)

// ObservationCodeForMeasure maps a measure to its measure-level observation code.
func ObservationCodeForMeasure(m MAMeasure) ObservationCode {
	switch m {
	case MAC:
		return ObsPDCMAC
	case MAD:
		return ObsPDCMAD
	case MAH:
		return ObsPDCMAH
	default:
		return ""
	}
}

// ObservationExtensions carries the per-observation extension fields listed
// in spec §3. Medication-only fields are zero-valued on measure-level
// observations.
type ObservationExtensions struct {
	FragilityTier      FragilityTier
	PriorityScore      int
	IsCurrent          bool
	MAMeasure          MAMeasure
	DaysUntilRunout    int
	GapDaysRemaining   int
	DelayBudget        float64
	TreatmentPeriod    TreatmentPeriod
	Q4Adjusted         bool

	// Medication-only fields; zero-valued for measure-level observations.
	MedicationRxnorm        string
	MedicationDisplay       string
	RemainingRefills        int
	SupplyOnHand            int
	CoverageShortfall       int
	EstimatedDaysPerRefill  float64
	ParentMeasureObservation string
}

// StoredObservation is the engine's view of a FHIR Observation resource it
// owns. The backing store is the external FHIR server; this type is the
// domain-level projection the rest of the engine operates on.
type StoredObservation struct {
	ID               string
	PatientRef       string
	ObservationCode  ObservationCode
	Value            float64 // pdc ratio
	EffectiveDateTime time.Time
	Extensions       ObservationExtensions
}

// ObservationKey identifies the single-current scope: at most one
// observation per key may have IsCurrent=true.
type ObservationKey struct {
	PatientRef      string
	ObservationCode ObservationCode
	Measure         MAMeasure
	MedicationRxnorm string // empty for measure-level observations
}

// Key returns this observation's single-current scope key.
func (o StoredObservation) Key() ObservationKey {
	return ObservationKey{
		PatientRef:       o.PatientRef,
		ObservationCode:  o.ObservationCode,
		Measure:          o.Extensions.MAMeasure,
		MedicationRxnorm: o.Extensions.MedicationRxnorm,
	}
}

// NewerThan implements the reader tie-break rule from §4.4 and §9: during
// the transient window where two observations may carry IsCurrent=true,
// readers select the one with the most recent EffectiveDateTime, breaking
// ties by the newest (lexicographically greater, UUIDs are time-sortable-
// agnostic so this is an explicit tie-break) resource id.
func (o StoredObservation) NewerThan(other StoredObservation) bool {
	if !o.EffectiveDateTime.Equal(other.EffectiveDateTime) {
		return o.EffectiveDateTime.After(other.EffectiveDateTime)
	}
	return o.ID > other.ID
}
