package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/logging"
)

// ObservationService persists and retrieves Observation resources,
// enforcing the single-current invariant from spec §3/§4.4: at most one
// observation per (patient, observationCode, measure, medication?) key has
// isCurrent=true at any instant.
type ObservationService struct {
	client           *Client
	extensionBaseURL string
	newID            func() string
}

// NewObservationService builds an ObservationService over the given FHIR client.
func NewObservationService(client *Client, extensionBaseURL string) *ObservationService {
	return &ObservationService{
		client:           client,
		extensionBaseURL: extensionBaseURL,
		newID:            uuid.NewString,
	}
}

// NewObservationID hands out an id from the same source store() uses
// internally, so a caller can pre-generate a measure-level observation's id
// before writing it, to satisfy the medication-level-written-first ordering
// in spec §5/§9 (the child references a parent id that is known but not yet
// persisted).
func (s *ObservationService) NewObservationID() string {
	return s.newID()
}

// StoreMeasurePDC persists a measure-level observation with a freshly
// generated id.
func (s *ObservationService) StoreMeasurePDC(ctx context.Context, patientRef string, measure domain.MAMeasure, pdcResult domain.PDCResult, fragility domain.FragilityResult, effectiveDate time.Time) (domain.StoredObservation, error) {
	return s.StoreMeasurePDCWithID(ctx, "", patientRef, measure, pdcResult, fragility, effectiveDate)
}

// StoreMeasurePDCWithID persists a measure-level observation under a caller-
// supplied id (see NewObservationID); an empty id generates a fresh one.
func (s *ObservationService) StoreMeasurePDCWithID(ctx context.Context, id, patientRef string, measure domain.MAMeasure, pdcResult domain.PDCResult, fragility domain.FragilityResult, effectiveDate time.Time) (domain.StoredObservation, error) {
	obs := domain.StoredObservation{
		ID:                id,
		PatientRef:        patientRef,
		ObservationCode:   domain.ObservationCodeForMeasure(measure),
		Value:             pdcResult.PDC,
		EffectiveDateTime: effectiveDate,
		Extensions: domain.ObservationExtensions{
			FragilityTier:    fragility.Tier,
			PriorityScore:    fragility.PriorityScore,
			IsCurrent:        true,
			MAMeasure:        measure,
			GapDaysRemaining: pdcResult.GapDaysRemaining,
			DelayBudget:      fragility.DelayBudgetPerRefill,
			TreatmentPeriod:  pdcResult.TreatmentPeriod,
			Q4Adjusted:       fragility.Flags.Q4Tightened,
		},
	}
	return s.store(ctx, obs)
}

// StoreMedicationPDC persists a medication-level observation referencing
// its parent measure observation.
func (s *ObservationService) StoreMedicationPDC(ctx context.Context, patientRef string, measure domain.MAMeasure, projection domain.MedicationProjection, pdcResult domain.PDCResult, fragility domain.FragilityResult, parentObservationRef string, effectiveDate time.Time) (domain.StoredObservation, error) {
	obs := domain.StoredObservation{
		PatientRef:        patientRef,
		ObservationCode:   domain.ObsPDCMedication,
		Value:             pdcResult.PDC,
		EffectiveDateTime: effectiveDate,
		Extensions: domain.ObservationExtensions{
			FragilityTier:            fragility.Tier,
			PriorityScore:            fragility.PriorityScore,
			IsCurrent:                true,
			MAMeasure:                measure,
			DaysUntilRunout:          projection.DaysUntilRunout,
			GapDaysRemaining:         pdcResult.GapDaysRemaining,
			DelayBudget:              fragility.DelayBudgetPerRefill,
			TreatmentPeriod:          pdcResult.TreatmentPeriod,
			Q4Adjusted:               fragility.Flags.Q4Tightened,
			MedicationRxnorm:         projection.RxNorm,
			MedicationDisplay:        projection.Display,
			RemainingRefills:         projection.RemainingRefills,
			SupplyOnHand:             projection.SupplyOnHand,
			CoverageShortfall:        projection.CoverageShortfall,
			EstimatedDaysPerRefill:   projection.EstimatedDaysPerRefill,
			ParentMeasureObservation: parentObservationRef,
		},
	}
	return s.store(ctx, obs)
}

// store implements the current-flag protocol from spec §4.4: (1) find
// priors sharing this observation's key; (2) create the new observation
// with isCurrent=true; (3) flip all priors to isCurrent=false. Create
// precedes unflag so a concurrent reader never observes zero currents.
func (s *ObservationService) store(ctx context.Context, obs domain.StoredObservation) (domain.StoredObservation, error) {
	key := obs.Key()

	priors, err := s.searchByKey(ctx, key)
	if err != nil {
		return domain.StoredObservation{}, fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
	}

	if obs.ID == "" {
		obs.ID = s.newID()
	}
	wire := toObservationResource(obs, s.extensionBaseURL)
	if _, err := s.client.do(ctx, "PUT", "/Observation/"+obs.ID, wire, nil); err != nil {
		logging.FHIRLogger().Error("observation create failed",
			logging.WithPatientRef(obs.PatientRef), logging.WithError(err))
		return domain.StoredObservation{}, fmt.Errorf("%w: %v", domain.ErrFHIRWriteFailed, err)
	}

	for _, prior := range priors {
		if prior.ID == obs.ID {
			continue
		}
		prior.Extensions.IsCurrent = false
		priorWire := toObservationResource(prior, s.extensionBaseURL)
		if _, err := s.client.do(ctx, "PUT", "/Observation/"+prior.ID, priorWire, nil); err != nil {
			// Non-fatal: the new observation is already current; an
			// orphaned stale current will be corrected by reader-side
			// tie-break (§9) and the next run.
			logging.FHIRLogger().Warn("failed to unflag prior current observation",
				logging.WithEntityID("observation", prior.ID), logging.WithError(err))
		}
	}

	return obs, nil
}

// GetCurrent returns the current observation for a key, or
// ErrObservationNotFound. When more than one observation is transiently
// current (the window described in §4.4/§9), the one with the most recent
// EffectiveDateTime wins, ties broken by the newest id.
func (s *ObservationService) GetCurrent(ctx context.Context, patientRef string, code domain.ObservationCode, measure domain.MAMeasure, medicationRxnorm string) (domain.StoredObservation, error) {
	key := domain.ObservationKey{PatientRef: patientRef, ObservationCode: code, Measure: measure, MedicationRxnorm: medicationRxnorm}
	candidates, err := s.searchByKey(ctx, key)
	if err != nil {
		return domain.StoredObservation{}, fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
	}
	return newestCurrent(candidates)
}

// GetAllCurrent returns every current observation for a patient across all
// codes/measures/medications.
func (s *ObservationService) GetAllCurrent(ctx context.Context, patientRef string) ([]domain.StoredObservation, error) {
	query := url.Values{}
	query.Set("subject", patientRef)
	if s.client.IndexedSearchCapable {
		query.Set(s.extensionBaseURL+"/is-current", "true")
	}
	path := "/Observation?" + query.Encode()

	var b bundle
	status, err := s.client.do(ctx, "GET", path, nil, &b)
	if err != nil {
		logging.FHIRLogger().Error("current observation search failed",
			logging.WithPatientRef(patientRef), logging.WithHTTPStatus(status), logging.WithError(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
	}

	observations := decodeObservations(b, s.extensionBaseURL)

	// Fallback policy (§4.4): if the server doesn't support the indexed
	// query, filter client-side. Both paths must return equivalent results.
	if !s.client.IndexedSearchCapable {
		filtered := observations[:0]
		for _, o := range observations {
			if o.Extensions.IsCurrent {
				filtered = append(filtered, o)
			}
		}
		observations = filtered
	}

	return dedupeByKeyNewest(observations), nil
}

// searchByKey finds every observation sharing an observation key, current
// or not, so the store protocol can unflag every stale prior.
func (s *ObservationService) searchByKey(ctx context.Context, key domain.ObservationKey) ([]domain.StoredObservation, error) {
	query := url.Values{}
	query.Set("subject", key.PatientRef)
	query.Set("code", string(key.ObservationCode))
	if s.client.IndexedSearchCapable {
		query.Set(s.extensionBaseURL+"/ma-measure", string(key.Measure))
	}
	path := "/Observation?" + query.Encode()

	var b bundle
	if _, err := s.client.do(ctx, "GET", path, nil, &b); err != nil {
		return nil, err
	}

	observations := decodeObservations(b, s.extensionBaseURL)

	filtered := observations[:0]
	for _, o := range observations {
		if o.Extensions.MAMeasure == key.Measure && o.Extensions.MedicationRxnorm == key.MedicationRxnorm {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

func decodeObservations(b bundle, extensionBaseURL string) []domain.StoredObservation {
	out := make([]domain.StoredObservation, 0, len(b.Entry))
	for _, entry := range b.Entry {
		var r observationResource
		if err := json.Unmarshal(entry.Resource, &r); err != nil {
			continue
		}
		out = append(out, toDomainObservation(r, extensionBaseURL))
	}
	return out
}

func newestCurrent(candidates []domain.StoredObservation) (domain.StoredObservation, error) {
	var best domain.StoredObservation
	found := false
	for _, o := range candidates {
		if !o.Extensions.IsCurrent {
			continue
		}
		if !found || o.NewerThan(best) {
			best = o
			found = true
		}
	}
	if !found {
		return domain.StoredObservation{}, domain.ErrObservationNotFound
	}
	return best, nil
}

// dedupeByKeyNewest collapses the transient two-currents window per key
// (spec §9) down to one observation per key, applying the same
// effective-date-then-id tie-break GetCurrent uses.
func dedupeByKeyNewest(observations []domain.StoredObservation) []domain.StoredObservation {
	byKey := make(map[domain.ObservationKey]domain.StoredObservation, len(observations))
	for _, o := range observations {
		existing, ok := byKey[o.Key()]
		if !ok || o.NewerThan(existing) {
			byKey[o.Key()] = o
		}
	}
	out := make([]domain.StoredObservation, 0, len(byKey))
	for _, o := range byKey {
		out = append(out, o)
	}
	return out
}
