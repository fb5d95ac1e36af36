// Package orchestrator composes the PDC Calculator, Fragility Classifier,
// Refill Projector, and the FHIR-facing services into one per-patient
// pipeline, and reports a structured result instead of throwing across
// patient boundaries.
package orchestrator

import (
	"time"

	"github.com/carepath/pdc-engine/internal/domain"
)

// Options parameterizes one calculateAndStore invocation (spec §4.6).
type Options struct {
	MeasurementYear int
	// CurrentDate is injected "now"; CalculateAndStore replaces a zero
	// value with the system clock.
	CurrentDate              time.Time
	IncludeMedicationLevel   bool
	UpdatePatientExtensions  bool
	DryRun                   bool
}

// DefaultOptions returns the spec-default option values for a measurement year.
func DefaultOptions(measurementYear int) Options {
	return Options{
		MeasurementYear:         measurementYear,
		IncludeMedicationLevel:  true,
		UpdatePatientExtensions: true,
	}
}

// MedicationResult is one medication's computed values within a measure.
type MedicationResult struct {
	RxNorm     string
	Display    string
	PDCResult  domain.PDCResult
	Fragility  domain.FragilityResult
	Projection domain.MedicationProjection
}

// MeasureResult is one MA measure's computed values for a patient.
type MeasureResult struct {
	Measure     domain.MAMeasure
	PDCResult   domain.PDCResult
	Fragility   domain.FragilityResult
	Medications []MedicationResult
	TimedOut    bool
}

// Result is the Orchestrator's output for one calculateAndStore call.
// Measures and Errors are always non-nil so callers never nil-check them.
type Result struct {
	PatientID       string
	PatientRef      string
	MeasurementYear int
	CalculatedAt    time.Time
	Measures        []MeasureResult
	Summary         domain.PatientSummary
	Warnings        []string
	Errors          []string
}

// newResult seeds a Result with the non-nil slices callers expect.
func newResult(patientID, patientRef string, opts Options) Result {
	return Result{
		PatientID:       patientID,
		PatientRef:      patientRef,
		MeasurementYear: opts.MeasurementYear,
		CalculatedAt:    opts.CurrentDate,
		Measures:        []MeasureResult{},
		Warnings:        []string{},
		Errors:          []string{},
	}
}
