// Package audit persists a local, append-only record of every orchestrator
// and batch run. The FHIR server is the engine's system of record for
// clinical data; this store exists solely so an operator can answer "what
// ran, when, with what outcome" without scraping logs.
package audit

import (
	"time"

	"gorm.io/gorm"
)

// ExecutionRecordModel is one Orchestrator run for one patient.
type ExecutionRecordModel struct {
	gorm.Model
	ExecutionID  string `gorm:"not null;size:36;uniqueIndex" json:"execution_id"`
	PatientRef   string `gorm:"not null;size:128;index:idx_execution_patient" json:"patient_ref"`
	BatchRunID   string `gorm:"size:36;index:idx_execution_batch" json:"batch_run_id"`
	DryRun       bool   `gorm:"not null;default:false" json:"dry_run"`
	Outcome      string `gorm:"not null;size:20;check:outcome IN ('success','partial','failed')" json:"outcome"`
	WarningCount int    `gorm:"not null;default:0" json:"warning_count"`
	ErrorCount   int    `gorm:"not null;default:0" json:"error_count"`
	DurationMs   int64  `gorm:"not null;default:0" json:"duration_ms"`
	StartedAt    time.Time `gorm:"not null" json:"started_at"`
	FinishedAt   time.Time `gorm:"not null" json:"finished_at"`
}

// TableName overrides the table name used by ExecutionRecordModel.
func (ExecutionRecordModel) TableName() string {
	return "execution_records"
}

// BatchRunModel is one invocation of the nightly Batch Driver.
type BatchRunModel struct {
	gorm.Model
	BatchRunID      string `gorm:"not null;size:36;uniqueIndex" json:"batch_run_id"`
	MeasurementYear int    `gorm:"not null" json:"measurement_year"`
	DryRun          bool   `gorm:"not null;default:false" json:"dry_run"`
	Status          string `gorm:"not null;size:20;check:status IN ('running','completed','failed')" json:"status"`
	PatientsTotal   int    `gorm:"not null;default:0" json:"patients_total"`
	PatientsOK      int    `gorm:"not null;default:0" json:"patients_ok"`
	PatientsFailed  int    `gorm:"not null;default:0" json:"patients_failed"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// TableName overrides the table name used by BatchRunModel.
func (BatchRunModel) TableName() string {
	return "batch_runs"
}

// ExecutionRecord is the domain-facing view of an ExecutionRecordModel row.
type ExecutionRecord struct {
	ExecutionID  string
	PatientRef   string
	BatchRunID   string
	DryRun       bool
	Outcome      string
	WarningCount int
	ErrorCount   int
	DurationMs   int64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ToDomain converts an ExecutionRecordModel to an ExecutionRecord.
func (m *ExecutionRecordModel) ToDomain() ExecutionRecord {
	return ExecutionRecord{
		ExecutionID:  m.ExecutionID,
		PatientRef:   m.PatientRef,
		BatchRunID:   m.BatchRunID,
		DryRun:       m.DryRun,
		Outcome:      m.Outcome,
		WarningCount: m.WarningCount,
		ErrorCount:   m.ErrorCount,
		DurationMs:   m.DurationMs,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}

// FromDomain populates an ExecutionRecordModel from an ExecutionRecord.
func (m *ExecutionRecordModel) FromDomain(r ExecutionRecord) {
	m.ExecutionID = r.ExecutionID
	m.PatientRef = r.PatientRef
	m.BatchRunID = r.BatchRunID
	m.DryRun = r.DryRun
	m.Outcome = r.Outcome
	m.WarningCount = r.WarningCount
	m.ErrorCount = r.ErrorCount
	m.DurationMs = r.DurationMs
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
}

// BatchRun is the domain-facing view of a BatchRunModel row.
type BatchRun struct {
	BatchRunID      string
	MeasurementYear int
	DryRun          bool
	Status          string
	PatientsTotal   int
	PatientsOK      int
	PatientsFailed  int
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// ToDomain converts a BatchRunModel to a BatchRun.
func (m *BatchRunModel) ToDomain() BatchRun {
	return BatchRun{
		BatchRunID:      m.BatchRunID,
		MeasurementYear: m.MeasurementYear,
		DryRun:          m.DryRun,
		Status:          m.Status,
		PatientsTotal:   m.PatientsTotal,
		PatientsOK:      m.PatientsOK,
		PatientsFailed:  m.PatientsFailed,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
	}
}

// FromDomain populates a BatchRunModel from a BatchRun.
func (m *BatchRunModel) FromDomain(r BatchRun) {
	m.BatchRunID = r.BatchRunID
	m.MeasurementYear = r.MeasurementYear
	m.DryRun = r.DryRun
	m.Status = r.Status
	m.PatientsTotal = r.PatientsTotal
	m.PatientsOK = r.PatientsOK
	m.PatientsFailed = r.PatientsFailed
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
}
