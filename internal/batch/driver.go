package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/carepath/pdc-engine/internal/audit"
	"github.com/carepath/pdc-engine/internal/fhir"
	"github.com/carepath/pdc-engine/internal/logging"
	"github.com/carepath/pdc-engine/internal/orchestrator"
)

// patientIDFromRef derives the Patient resource id from a "Patient/<id>"
// reference, the same shape the discovery search returns subjects in.
func patientIDFromRef(ref string) string {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' {
			return ref[i+1:]
		}
	}
	return ref
}

// Driver runs the nightly fleet-wide recomputation described in spec §4.7.
type Driver struct {
	Discoverer   *fhir.DispenseService
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Store
}

// New builds a Driver from its collaborators. Audit may be nil, in which
// case runs are not persisted locally (still fully functional otherwise).
func New(discoverer *fhir.DispenseService, orch *orchestrator.Orchestrator, auditStore *audit.Store) *Driver {
	return &Driver{Discoverer: discoverer, Orchestrator: orch, Audit: auditStore}
}

// RunBatch discovers candidate patients and processes them in
// bounded-concurrency chunks, never letting one patient's failure halt the
// batch (spec §4.7).
func (d *Driver) RunBatch(ctx context.Context, opts Options) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.ProgressEveryN <= 0 {
		opts.ProgressEveryN = 10
	}
	if opts.MaxPatientRetries <= 0 {
		opts.MaxPatientRetries = 3
	}

	batchRunID := uuid.NewString()
	startedAt := time.Now()

	refs, err := d.Discoverer.DiscoverPatients(ctx, opts.MeasurementYear)
	if err != nil {
		return Result{}, fmt.Errorf("discover patients: %w", err)
	}
	if opts.MaxPatients > 0 && len(refs) > opts.MaxPatients {
		refs = refs[:opts.MaxPatients]
	}

	if d.Audit != nil {
		_ = d.Audit.StartBatchRun(audit.BatchRun{
			BatchRunID:      batchRunID,
			MeasurementYear: opts.MeasurementYear,
			DryRun:          opts.DryRun,
			Status:          "running",
			StartedAt:       startedAt,
		})
	}

	logging.BatchLogger().Info("batch run starting",
		logging.WithEntityID("batch_run", batchRunID),
		logging.WithOperation(fmt.Sprintf("patients=%d chunk=%d", len(refs), opts.BatchSize)))

	outcomes := make([]PatientOutcome, 0, len(refs))
	var processed int
	var totalDurationMs int64

	for start := 0; start < len(refs); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		chunkOutcomes := d.runChunk(ctx, batchRunID, chunk, opts)
		outcomes = append(outcomes, chunkOutcomes...)

		for _, o := range chunkOutcomes {
			processed++
			totalDurationMs += o.DurationMs
			if processed%opts.ProgressEveryN == 0 {
				logging.BatchLogger().Info("batch progress",
					logging.WithEntityID("batch_run", batchRunID),
					logging.WithOperation(fmt.Sprintf("%d/%d processed", processed, len(refs))))
			}
		}

		if end < len(refs) && opts.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				goto summarize
			case <-time.After(opts.InterBatchDelay):
			}
		}
	}

summarize:
	finishedAt := time.Now()
	result := Result{
		BatchRunID:      batchRunID,
		MeasurementYear: opts.MeasurementYear,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		PatientsTotal:   len(outcomes),
		Outcomes:        outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			result.PatientsOK++
		} else {
			result.PatientsFailed++
		}
	}
	if len(outcomes) > 0 {
		result.MeanDurationMs = float64(totalDurationMs) / float64(len(outcomes))
	}

	if d.Audit != nil {
		_ = d.Audit.FinishBatchRun(audit.BatchRun{
			BatchRunID:     batchRunID,
			Status:         "completed",
			PatientsTotal:  result.PatientsTotal,
			PatientsOK:     result.PatientsOK,
			PatientsFailed: result.PatientsFailed,
			FinishedAt:     &finishedAt,
		})
	}

	logging.BatchLogger().Info("batch run completed",
		logging.WithEntityID("batch_run", batchRunID),
		logging.WithOperation(fmt.Sprintf("ok=%d failed=%d mean_ms=%.1f", result.PatientsOK, result.PatientsFailed, result.MeanDurationMs)))

	return result, nil
}

// runChunk processes one chunk of patients with concurrency bounded to
// batchSize, each patient isolated by its own try/catch-equivalent recover.
func (d *Driver) runChunk(ctx context.Context, batchRunID string, chunk []string, opts Options) []PatientOutcome {
	sem := semaphore.NewWeighted(int64(opts.BatchSize))
	outcomes := make([]PatientOutcome, len(chunk))
	var wg sync.WaitGroup

	for i, patientRef := range chunk {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = PatientOutcome{PatientRef: patientRef, Success: false, Errors: []string{err.Error()}}
			continue
		}
		wg.Add(1)
		go func(i int, patientRef string) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = d.runPatient(ctx, batchRunID, patientRef, opts)
		}(i, patientRef)
	}

	wg.Wait()
	return outcomes
}

// runPatient invokes the Orchestrator for one patient with a bounded retry
// budget on transient failure, recording the outcome regardless of success.
func (d *Driver) runPatient(ctx context.Context, batchRunID, patientRef string, opts Options) PatientOutcome {
	patientID := patientIDFromRef(patientRef)
	started := time.Now()

	orchOpts := orchestrator.DefaultOptions(opts.MeasurementYear)
	orchOpts.CurrentDate = opts.CurrentDate
	orchOpts.DryRun = opts.DryRun

	var result orchestrator.Result
	for attempt := 0; attempt <= opts.MaxPatientRetries; attempt++ {
		result = d.Orchestrator.CalculateAndStore(ctx, patientID, patientRef, orchOpts)
		if len(result.Errors) == 0 || attempt == opts.MaxPatientRetries {
			break
		}
		logging.BatchLogger().Warn("patient run failed, retrying",
			logging.WithPatientRef(patientRef), logging.WithOperation(fmt.Sprintf("retry-%d", attempt+1)))
	}

	duration := time.Since(started)
	outcome := PatientOutcome{
		PatientID:  patientID,
		PatientRef: patientRef,
		Success:    len(result.Errors) == 0,
		DurationMs: duration.Milliseconds(),
		Errors:     result.Errors,
	}

	if d.Audit != nil {
		outcomeLabel := "success"
		if !outcome.Success {
			outcomeLabel = "failed"
		}
		_ = d.Audit.RecordExecution(audit.ExecutionRecord{
			ExecutionID:  uuid.NewString(),
			PatientRef:   patientRef,
			BatchRunID:   batchRunID,
			DryRun:       opts.DryRun,
			Outcome:      outcomeLabel,
			WarningCount: len(result.Warnings),
			ErrorCount:   len(result.Errors),
			DurationMs:   outcome.DurationMs,
			StartedAt:    started,
			FinishedAt:   time.Now(),
		})
	}

	return outcome
}
