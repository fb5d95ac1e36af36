package server

import (
	"fmt"
	"net/http"

	"github.com/carepath/pdc-engine/internal/audit"
	"github.com/carepath/pdc-engine/internal/batch"
	"github.com/carepath/pdc-engine/internal/classification"
	"github.com/carepath/pdc-engine/internal/config"
	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/fhir"
	"github.com/carepath/pdc-engine/internal/fragility"
	"github.com/carepath/pdc-engine/internal/handlers"
	"github.com/carepath/pdc-engine/internal/orchestrator"
	"github.com/carepath/pdc-engine/internal/pdc"
	"github.com/carepath/pdc-engine/internal/router"
)

// Deps holds every long-lived collaborator NewServerWithConfig wires up, so
// cmd/pdcengine and cmd/pdcbatch can share construction without duplicating
// it and so the batch driver's audit store can be closed on shutdown.
type Deps struct {
	Audit     *audit.Store
	Scheduler *batch.Scheduler
	Router    *router.Router
}

// BuildDeps wires the engine's full dependency graph from config: the FHIR
// client and its three services, the classification table, the pure
// Calculator and Classifier, the Orchestrator that composes them, the
// SQLite-backed audit log, and the Batch Driver/Scheduler pair.
func BuildDeps(cfg *config.Config) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := fhir.NewClient(cfg.FHIR.BaseURL, cfg.FHIR.ExtensionBaseURL, cfg.FHIR.RequestTimeout, cfg.FHIR.IndexedSearchCapable)
	dispenses := fhir.NewDispenseService(client)
	observations := fhir.NewObservationService(client, cfg.FHIR.ExtensionBaseURL)
	patientExt := fhir.NewPatientExtensionService(client, cfg.FHIR.ExtensionBaseURL, observations)

	table, err := loadClassificationTable(cfg.Engine.RxNormTablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rxnorm table: %w", err)
	}

	calculator := pdc.NewCalculator(cfg.Engine.GapDaysAllowedFraction)
	classifier := fragility.NewClassifier(fragility.Config{
		ComplianceThreshold: cfg.Engine.PDCComplianceThreshold,
		Q4TighteningFactor:  cfg.Engine.Q4TighteningFactor,
		TierBoundaries: fragility.TierBoundaries{
			F1: cfg.Engine.TierBoundaryF1,
			F2: cfg.Engine.TierBoundaryF2,
			F3: cfg.Engine.TierBoundaryF3,
			F4: cfg.Engine.TierBoundaryF4,
		},
		PriorityBase: map[domain.FragilityTier]int{
			domain.F1Imminent:      cfg.Engine.PriorityBaseF1Imminent,
			domain.F2Fragile:       cfg.Engine.PriorityBaseF2Fragile,
			domain.F3Moderate:      cfg.Engine.PriorityBaseF3Moderate,
			domain.F4Comfortable:   cfg.Engine.PriorityBaseF4Comfortable,
			domain.F5Safe:          cfg.Engine.PriorityBaseF5Safe,
			domain.Compliant:       cfg.Engine.PriorityBaseCompliant,
			domain.T5Unsalvageable: cfg.Engine.PriorityBaseT5Unsalvageable,
		},
		PriorityBonuses: fragility.PriorityBonuses{
			OutOfMeds:    cfg.Engine.PriorityBonusOutOfMeds,
			Q4:           cfg.Engine.PriorityBonusQ4,
			MultiMeasure: cfg.Engine.PriorityBonusMultiMeasure,
			NewPatient:   cfg.Engine.PriorityBonusNewPatient,
		},
	})

	orch := orchestrator.New(table, calculator, classifier, dispenses, observations, patientExt)

	auditStore, err := audit.Open(cfg.Batch.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	driver := batch.New(dispenses, orch, auditStore)
	scheduler := batch.NewScheduler(driver, func() batch.Options {
		opts := batch.DefaultOptions(cfg.Engine.MeasurementYear)
		opts.BatchSize = cfg.Batch.BatchSize
		opts.MaxPatients = cfg.Batch.MaxPatients
		opts.InterBatchDelay = cfg.Batch.InterBatchDelay
		opts.ProgressEveryN = cfg.Batch.ProgressEveryN
		opts.MaxPatientRetries = cfg.Batch.MaxPatientRetries
		opts.DryRun = cfg.Engine.DryRun
		if current, err := cfg.Engine.ParseCurrentDate(); err == nil {
			opts.CurrentDate = current
		}
		return opts
	})

	pdcHandler := handlers.NewPDCHandler(orch, scheduler, auditStore, patientExt)
	appRouter := router.NewRouter(pdcHandler)

	return &Deps{Audit: auditStore, Scheduler: scheduler, Router: appRouter}, nil
}

// loadClassificationTable builds the RxNorm classification table from the
// configured file path, falling back to a small starter table so the engine
// still boots (at reduced coverage) without one configured.
func loadClassificationTable(path string) (*classification.Table, error) {
	if path == "" {
		return classification.NewTable(classification.DefaultMapping()), nil
	}
	return classification.LoadTableFromFile(path)
}

// NewServerWithConfig builds the admin/ops HTTP server: the engine's
// dependency graph plus the gin router wrapped in an *http.Server configured
// per cfg.Server.
func NewServerWithConfig(cfg *config.Config) (*http.Server, *Deps, error) {
	deps, err := BuildDeps(cfg)
	if err != nil {
		return nil, nil, err
	}

	serverService := config.NewServerService(&cfg.Server)
	srv := serverService.CreateServer(deps.Router.SetupRoutes())

	return srv, deps, nil
}
