// Package handlers implements the engine's admin/ops HTTP surface: ad hoc
// single-patient recalculation, manual batch triggering, batch-run status
// lookup, and the denormalization rebuild procedure.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carepath/pdc-engine/internal/audit"
	"github.com/carepath/pdc-engine/internal/batch"
	"github.com/carepath/pdc-engine/internal/dtos"
	"github.com/carepath/pdc-engine/internal/fhir"
	"github.com/carepath/pdc-engine/internal/logging"
	"github.com/carepath/pdc-engine/internal/orchestrator"
)

// PDCHandler serves the admin surface described in SPEC_FULL.md's DOMAIN
// STACK: incident-response recompute, manual batch trigger/status, and
// rebuild-summary recovery.
type PDCHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *batch.Scheduler
	Audit        *audit.Store
	PatientExt   *fhir.PatientExtensionService
}

// NewPDCHandler builds a PDCHandler from its collaborators.
func NewPDCHandler(orch *orchestrator.Orchestrator, sched *batch.Scheduler, auditStore *audit.Store, patientExt *fhir.PatientExtensionService) *PDCHandler {
	return &PDCHandler{Orchestrator: orch, Scheduler: sched, Audit: auditStore, PatientExt: patientExt}
}

// Recalculate handles POST /api/v1/patients/:id/recalculate, running the
// full pipeline for one patient. DryRun in the request body reuses the
// Orchestrator's dry-run mode instead of requiring a nightly batch.
func (h *PDCHandler) Recalculate(c *gin.Context) {
	patientID := c.Param("id")
	var req dtos.RecalculateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dtos.NewErrorResponse(http.StatusBadRequest, "invalid_request", err.Error()))
		return
	}

	opts := orchestrator.DefaultOptions(req.MeasurementYear)
	opts.DryRun = req.DryRun
	if req.CurrentDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.CurrentDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, dtos.NewErrorResponse(http.StatusBadRequest, "invalid_current_date", err.Error()))
			return
		}
		opts.CurrentDate = parsed
	}

	patientRef := "Patient/" + patientID
	result := h.Orchestrator.CalculateAndStore(c.Request.Context(), patientID, patientRef, opts)

	if !req.DryRun && h.Audit != nil {
		_ = h.Audit.RecordExecution(audit.ExecutionRecord{
			ExecutionID: patientID + "-" + time.Now().UTC().Format("20060102150405"),
			PatientRef:  patientRef,
			DryRun:      false,
			Outcome:     outcomeLabel(result),
			WarningCount: len(result.Warnings),
			ErrorCount:   len(result.Errors),
			StartedAt:    time.Now(),
			FinishedAt:   time.Now(),
		})
	}

	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, dtos.FromOrchestratorResult(result, req.DryRun))
}

func outcomeLabel(result orchestrator.Result) string {
	if len(result.Errors) > 0 {
		return "failed"
	}
	return "success"
}

// TriggerBatch handles POST /api/v1/batch/run, running the fleet-wide
// recomputation synchronously and returning its summary tally.
func (h *PDCHandler) TriggerBatch(c *gin.Context) {
	var req dtos.BatchRunRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dtos.NewErrorResponse(http.StatusBadRequest, "invalid_request", err.Error()))
		return
	}

	opts := batch.DefaultOptions(req.MeasurementYear)
	opts.MaxPatients = req.MaxPatients
	opts.DryRun = req.DryRun

	result, err := h.Scheduler.RunWithOptions(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusConflict, dtos.NewErrorResponse(http.StatusConflict, "batch_in_progress", err.Error()))
		return
	}

	logging.BatchLogger().Info("batch run triggered via admin surface",
		logging.WithEntityID("batch_run", result.BatchRunID))
	c.JSON(http.StatusAccepted, dtos.FromBatchResult(result))
}

// BatchRunStatus handles GET /api/v1/batch/runs/:id.
func (h *PDCHandler) BatchRunStatus(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusNotFound, dtos.NewErrorResponse(http.StatusNotFound, "audit_unavailable", "audit store not configured"))
		return
	}

	run, err := h.Audit.GetBatchRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, dtos.NewErrorResponse(http.StatusNotFound, "batch_run_not_found", err.Error()))
		return
	}

	c.JSON(http.StatusOK, dtos.BatchRunStatusResponseDTO{
		BatchRunID:      run.BatchRunID,
		MeasurementYear: run.MeasurementYear,
		DryRun:          run.DryRun,
		Status:          run.Status,
		PatientsTotal:   run.PatientsTotal,
		PatientsOK:      run.PatientsOK,
		PatientsFailed:  run.PatientsFailed,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	})
}

// RebuildSummary handles POST /api/v1/patients/:id/rebuild-summary,
// implementing spec §9's denormalization-drift recovery procedure.
func (h *PDCHandler) RebuildSummary(c *gin.Context) {
	patientID := c.Param("id")
	patientRef := "Patient/" + patientID

	summary, err := h.PatientExt.RebuildPatientSummary(c.Request.Context(), patientID, patientRef, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dtos.NewErrorResponse(http.StatusInternalServerError, "rebuild_failed", err.Error()))
		return
	}

	pdcByMeasure := make(map[string]float64, len(summary.PDCByMeasure))
	for measure, pdc := range summary.PDCByMeasure {
		pdcByMeasure[string(measure)] = pdc
	}

	c.JSON(http.StatusOK, dtos.RebuildSummaryResponseDTO{
		PatientID:    patientID,
		WorstTier:    string(summary.WorstTier),
		PDCByMeasure: pdcByMeasure,
		LastUpdated:  summary.LastUpdated,
	})
}

// Healthz handles GET /healthz, a liveness probe for the admin surface.
func (h *PDCHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
