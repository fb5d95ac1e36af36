package dtos

import (
	"time"

	"github.com/carepath/pdc-engine/internal/batch"
	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/orchestrator"
)

// RecalculateRequestDTO is the body of POST /api/v1/patients/:id/recalculate.
type RecalculateRequestDTO struct {
	MeasurementYear int    `json:"measurement_year" binding:"required,min=2000"`
	CurrentDate     string `json:"current_date,omitempty"` // RFC3339; empty = system clock
	DryRun          bool   `json:"dry_run"`
}

// MedicationResultDTO mirrors orchestrator.MedicationResult for the wire.
type MedicationResultDTO struct {
	RxNorm          string  `json:"rxnorm"`
	Display         string  `json:"display"`
	PDC             float64 `json:"pdc"`
	Tier            string  `json:"tier"`
	PriorityScore   int     `json:"priority_score"`
	DaysUntilRunout int     `json:"days_until_runout"`
}

// MeasureResultDTO mirrors orchestrator.MeasureResult for the wire.
type MeasureResultDTO struct {
	Measure      string                 `json:"measure"`
	PDC          float64                `json:"pdc"`
	Tier         string                 `json:"tier"`
	PriorityScore int                   `json:"priority_score"`
	TimedOut     bool                   `json:"timed_out,omitempty"`
	Medications  []MedicationResultDTO  `json:"medications,omitempty"`
}

// RecalculateResponseDTO is the response body for a single-patient
// recalculation or dry-run preview.
type RecalculateResponseDTO struct {
	PatientID   string              `json:"patient_id"`
	Measures    []MeasureResultDTO  `json:"measures"`
	WorstTier   string              `json:"worst_tier"`
	Warnings    []string            `json:"warnings,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
	DryRun      bool                `json:"dry_run"`
}

// FromOrchestratorResult converts an orchestrator.Result into its wire form.
func FromOrchestratorResult(result orchestrator.Result, dryRun bool) RecalculateResponseDTO {
	measures := make([]MeasureResultDTO, 0, len(result.Measures))
	for _, m := range result.Measures {
		meds := make([]MedicationResultDTO, 0, len(m.Medications))
		for _, med := range m.Medications {
			meds = append(meds, MedicationResultDTO{
				RxNorm:          med.RxNorm,
				Display:         med.Display,
				PDC:             med.PDCResult.PDCStatusQuo,
				Tier:            string(med.Fragility.Tier),
				PriorityScore:   med.Fragility.PriorityScore,
				DaysUntilRunout: med.Projection.DaysUntilRunout,
			})
		}
		measures = append(measures, MeasureResultDTO{
			Measure:       string(m.Measure),
			PDC:           m.PDCResult.PDCStatusQuo,
			Tier:          string(m.Fragility.Tier),
			PriorityScore: m.Fragility.PriorityScore,
			TimedOut:      m.TimedOut,
			Medications:   meds,
		})
	}

	worstTier := string(domain.Compliant)
	if !dryRun {
		worstTier = string(result.Summary.WorstTier)
	} else if len(result.Measures) > 0 {
		worst := result.Measures[0].Fragility.Tier
		for _, m := range result.Measures[1:] {
			if m.Fragility.Tier.MoreSevere(worst) {
				worst = m.Fragility.Tier
			}
		}
		worstTier = string(worst)
	}

	return RecalculateResponseDTO{
		PatientID: result.PatientID,
		Measures:  measures,
		WorstTier: worstTier,
		Warnings:  result.Warnings,
		Errors:    result.Errors,
		DryRun:    dryRun,
	}
}

// BatchRunRequestDTO is the body of POST /api/v1/batch/run.
type BatchRunRequestDTO struct {
	MeasurementYear int  `json:"measurement_year" binding:"required,min=2000"`
	MaxPatients     int  `json:"max_patients,omitempty"`
	DryRun          bool `json:"dry_run"`
}

// BatchRunResponseDTO is the response body for a triggered batch run.
type BatchRunResponseDTO struct {
	BatchRunID      string  `json:"batch_run_id"`
	MeasurementYear int     `json:"measurement_year"`
	PatientsTotal   int     `json:"patients_total"`
	PatientsOK      int     `json:"patients_ok"`
	PatientsFailed  int     `json:"patients_failed"`
	MeanDurationMs  float64 `json:"mean_duration_ms"`
}

// FromBatchResult converts a batch.Result into its wire form.
func FromBatchResult(result batch.Result) BatchRunResponseDTO {
	return BatchRunResponseDTO{
		BatchRunID:      result.BatchRunID,
		MeasurementYear: result.MeasurementYear,
		PatientsTotal:   result.PatientsTotal,
		PatientsOK:      result.PatientsOK,
		PatientsFailed:  result.PatientsFailed,
		MeanDurationMs:  result.MeanDurationMs,
	}
}

// BatchRunStatusResponseDTO is the response body for GET /api/v1/batch/runs/:id.
type BatchRunStatusResponseDTO struct {
	BatchRunID      string     `json:"batch_run_id"`
	MeasurementYear int        `json:"measurement_year"`
	DryRun          bool       `json:"dry_run"`
	Status          string     `json:"status"`
	PatientsTotal   int        `json:"patients_total"`
	PatientsOK      int        `json:"patients_ok"`
	PatientsFailed  int        `json:"patients_failed"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RebuildSummaryResponseDTO is the response body for
// POST /api/v1/patients/:id/rebuild-summary.
type RebuildSummaryResponseDTO struct {
	PatientID   string   `json:"patient_id"`
	WorstTier   string   `json:"worst_tier"`
	PDCByMeasure map[string]float64 `json:"pdc_by_measure"`
	LastUpdated time.Time `json:"last_updated"`
}
