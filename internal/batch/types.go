// Package batch implements the nightly fleet-wide recomputation driver:
// patient discovery, bounded-concurrency chunking, and resilience around
// per-patient Orchestrator invocations.
package batch

import "time"

// PatientRef identifies a discovered candidate patient.
type PatientRef struct {
	PatientID  string
	PatientRef string
}

// Options parameterizes one runBatch invocation (spec §4.7).
type Options struct {
	MeasurementYear   int
	BatchSize         int
	MaxPatients       int // 0 = unbounded
	InterBatchDelay   time.Duration
	DryRun            bool
	CurrentDate       time.Time
	ProgressEveryN    int // emit progress every N patients processed; spec default 10
	MaxPatientRetries int // spec default 3
}

// DefaultOptions returns spec-default batch options for a measurement year.
func DefaultOptions(measurementYear int) Options {
	return Options{
		MeasurementYear:   measurementYear,
		BatchSize:         10,
		InterBatchDelay:   100 * time.Millisecond,
		ProgressEveryN:    10,
		MaxPatientRetries: 3,
	}
}

// PatientOutcome is one patient's terminal status within a batch run.
type PatientOutcome struct {
	PatientID  string
	PatientRef string
	Success    bool
	DurationMs int64
	Errors     []string
}

// Result is the Batch Driver's output for one runBatch call.
type Result struct {
	BatchRunID      string
	MeasurementYear int
	StartedAt       time.Time
	FinishedAt      time.Time
	PatientsTotal   int
	PatientsOK      int
	PatientsFailed  int
	MeanDurationMs  float64
	Outcomes        []PatientOutcome
}
