package domain

import "time"

// MAMeasure is one of the three HEDIS medication-adherence measures.
type MAMeasure string

const (
	MAC MAMeasure = "MAC" // cholesterol / statins
	MAD MAMeasure = "MAD" // diabetes
	MAH MAMeasure = "MAH" // hypertension / RAS antagonists
)

// AllMAMeasures lists every supported measure, stable order for iteration.
var AllMAMeasures = []MAMeasure{MAC, MAD, MAH}

// MedicationFills groups the FillRecords belonging to a single medication
// code within a MeasureBucket.
type MedicationFills struct {
	RxNorm  string
	Display string
	Fills   []FillRecord
}

// MeasureBucket is an ordered sequence of FillRecords belonging to one MA
// measure, grouped by the classification function applied to medicationCode.
// A medication not present in the classification table never enters a
// bucket; it is tracked separately as "unclassified" telemetry.
type MeasureBucket struct {
	Measure      MAMeasure
	Medications  []MedicationFills
}

// AllFills flattens every medication's fills into one slice, the view the
// measure-level PDC calculation needs.
func (b MeasureBucket) AllFills() []FillRecord {
	total := 0
	for _, m := range b.Medications {
		total += len(m.Fills)
	}
	out := make([]FillRecord, 0, total)
	for _, m := range b.Medications {
		out = append(out, m.Fills...)
	}
	return out
}

// TreatmentPeriod is [start: firstFillDate, end: Dec 31 of measurementYear].
type TreatmentPeriod struct {
	Start time.Time
	End   time.Time
}

// IsValid reports the invariant Start <= End. A first fill after Dec 31
// yields an invalid period and the engine emits no observation for it.
func (p TreatmentPeriod) IsValid() bool {
	return !p.Start.After(p.End)
}

// Days returns the inclusive day count of the period, 0 when invalid.
func (p TreatmentPeriod) Days() int {
	if !p.IsValid() {
		return 0
	}
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// YearEnd returns Dec 31 of the given measurement year, midnight UTC.
func YearEnd(measurementYear int) time.Time {
	return time.Date(measurementYear, time.December, 31, 0, 0, 0, 0, time.UTC)
}
