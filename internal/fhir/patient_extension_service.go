package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/logging"
)

// maxConcurrencyRetries is the spec §4.5/§7 retry budget for a Patient
// update that loses an optimistic-concurrency race.
const maxConcurrencyRetries = 3

// PatientExtensionService maintains the denormalized PatientSummary on the
// Patient resource, preserving every non-summary field verbatim.
type PatientExtensionService struct {
	client           *Client
	extensionBaseURL string
	observations     *ObservationService
}

// NewPatientExtensionService builds a PatientExtensionService.
func NewPatientExtensionService(client *Client, extensionBaseURL string, observations *ObservationService) *PatientExtensionService {
	return &PatientExtensionService{client: client, extensionBaseURL: extensionBaseURL, observations: observations}
}

// UpdateSummary reads the Patient, merges the summary extensions, and
// writes it back with a version-conditional update. On a concurrency
// conflict (§4.5, §7) it retries up to maxConcurrencyRetries times with a
// fresh read; the caller is responsible for recomputing summary in case
// of a retry.
func (s *PatientExtensionService) UpdateSummary(ctx context.Context, patientID string, summary domain.PatientSummary) error {
	path := "/Patient/" + patientID

	var lastErr error
	for attempt := 0; attempt <= maxConcurrencyRetries; attempt++ {
		pr, version, err := s.readPatient(ctx, path)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
		}

		merged := mergeSummary(pr, summary, s.extensionBaseURL)

		status, err := s.client.doConditional(ctx, "PUT", path, merged, version, nil)
		if err == nil {
			return nil
		}
		lastErr = err

		if status != http.StatusPreconditionFailed && status != http.StatusConflict {
			return fmt.Errorf("%w: %v", domain.ErrFHIRWriteFailed, err)
		}

		logging.FHIRLogger().Warn("patient summary update lost concurrency race, retrying",
			logging.WithPatientRef(patientID),
			logging.WithOperation(fmt.Sprintf("retry-%d", attempt+1)))
	}

	return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, lastErr)
}

func (s *PatientExtensionService) readPatient(ctx context.Context, path string) (patientResource, string, error) {
	var raw json.RawMessage
	if _, err := s.client.do(ctx, "GET", path, nil, &raw); err != nil {
		return patientResource{}, "", err
	}
	pr, err := parsePatientResource(raw)
	if err != nil {
		return patientResource{}, "", err
	}
	return pr, pr.Version, nil
}

// RebuildPatientSummary implements spec §9's recovery procedure: iterate
// current observations and recompute the summary, rather than trusting
// whatever is currently stored. Safe to call at any time; it always writes
// the rebuilt summary, even when it matches what is already stored.
func (s *PatientExtensionService) RebuildPatientSummary(ctx context.Context, patientID, patientRef string, now time.Time) (domain.PatientSummary, error) {
	currents, err := s.observations.GetAllCurrent(ctx, patientRef)
	if err != nil {
		return domain.PatientSummary{}, err
	}

	summary := AggregateSummary(currents, now)
	if err := s.UpdateSummary(ctx, patientID, summary); err != nil {
		return domain.PatientSummary{}, err
	}
	return summary, nil
}

// AggregateSummary implements the aggregation rules in spec §4.5 over a
// patient's current observation set. Pure function, exported so the
// Orchestrator can compute it without a FHIR round trip when it already
// holds the just-written observations in memory.
func AggregateSummary(currents []domain.StoredObservation, now time.Time) domain.PatientSummary {
	summary := domain.NewPatientSummary()
	summary.LastUpdated = now

	for _, o := range currents {
		if o.ObservationCode == domain.ObsPDCMedication {
			if !summary.HasEarliestRunout || o.Extensions.DaysUntilRunout < summary.DaysUntilEarliestRunout {
				summary.DaysUntilEarliestRunout = o.Extensions.DaysUntilRunout
				summary.HasEarliestRunout = true
			}
			continue
		}

		summary.PDCByMeasure[o.Extensions.MAMeasure] = o.Value
		if o.Extensions.FragilityTier.MoreSevere(summary.WorstTier) {
			summary.WorstTier = o.Extensions.FragilityTier
		}
		if o.Extensions.PriorityScore > summary.HighestPriorityScore {
			summary.HighestPriorityScore = o.Extensions.PriorityScore
		}
	}

	return summary
}
