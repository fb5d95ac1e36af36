package domain

import "errors"

// Input/compute errors
var (
	// ErrInvalidDaysSupply is returned when a dispense's daysSupply is <= 0 or non-integer.
	ErrInvalidDaysSupply = errors.New("invalid days supply")

	// ErrNoTreatmentPeriod is returned when a measure bucket has no fills and therefore
	// no treatment period for the measurement year.
	ErrNoTreatmentPeriod = errors.New("no treatment period")

	// ErrUnclassifiedMedication is returned when a medication's RxNorm code has no
	// entry in the MA classification table. Not surfaced as an OrchestratorResult
	// error; tracked as telemetry only.
	ErrUnclassifiedMedication = errors.New("medication not classified to an MA measure")
)

// FHIR store errors
var (
	// ErrFHIRReadFailed is returned when a dispense or patient read fails.
	ErrFHIRReadFailed = errors.New("fhir read failed")

	// ErrFHIRWriteFailed is returned when an observation or patient write fails.
	ErrFHIRWriteFailed = errors.New("fhir write failed")

	// ErrConcurrencyConflict is returned when an optimistic-concurrency version
	// check fails on a Patient update.
	ErrConcurrencyConflict = errors.New("concurrency conflict on patient update")

	// ErrObservationNotFound is returned when getCurrent finds no matching observation.
	ErrObservationNotFound = errors.New("observation not found")
)

// Orchestration errors
var (
	// ErrTimedOut is returned when an Orchestrator run exceeds its deadline between
	// measures; remaining measures are skipped and reported as timed out.
	ErrTimedOut = errors.New("orchestrator run timed out")

	// ErrPatientNotFound is returned when a patient reference does not resolve.
	ErrPatientNotFound = errors.New("patient not found")
)
