package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/logging"
)

// DispenseService is the read-only adapter over the FHIR store's
// MedicationDispense search, spec §4.2/§6. The engine never writes
// dispenses.
type DispenseService struct {
	client *Client
}

// NewDispenseService builds a DispenseService over the given FHIR client.
func NewDispenseService(client *Client) *DispenseService {
	return &DispenseService{client: client}
}

// FetchDispenses searches for a patient's completed dispenses within a
// measurement year, filtering out reversed/other-status records and
// records that fail to parse. Status=completed and the fill-date range
// are pushed down to the search query; client-side filtering covers
// whatever the server does not support.
func (s *DispenseService) FetchDispenses(ctx context.Context, patientRef string, measurementYear int) ([]domain.Dispense, error) {
	yearStart := fmt.Sprintf("%d-01-01", measurementYear)
	yearEnd := fmt.Sprintf("%d-12-31", measurementYear)

	query := url.Values{}
	query.Set("subject", patientRef)
	query.Set("status", "completed")
	query.Set("whenhandedover", "ge"+yearStart)
	query.Add("whenhandedover", "le"+yearEnd)
	query.Set("_count", "200")

	path := "/MedicationDispense?" + query.Encode()

	var b bundle
	status, err := s.client.do(ctx, "GET", path, nil, &b)
	if err != nil {
		logging.FHIRLogger().Error("dispense search failed",
			logging.WithComponent("fhir-dispense"),
			logging.WithPatientRef(patientRef),
			logging.WithHTTPStatus(status),
			logging.WithError(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
	}

	dispenses := make([]domain.Dispense, 0, len(b.Entry))
	for _, entry := range b.Entry {
		var r dispenseResource
		if err := json.Unmarshal(entry.Resource, &r); err != nil {
			logging.FHIRLogger().Warn("dropped unparseable dispense entry", logging.WithError(err))
			continue
		}
		d, err := toDomainDispense(r)
		if err != nil {
			logging.FHIRLogger().Warn("dropped dispense with unparseable fill date",
				logging.WithPatientRef(patientRef), logging.WithError(err))
			continue
		}
		if !d.IsUsable() {
			continue
		}
		if d.FillDate.Year() != measurementYear {
			continue
		}
		dispenses = append(dispenses, d)
	}

	return dispenses, nil
}

// DiscoverPatients finds the distinct patients with at least one completed
// dispense in the measurement year (spec §4.7 step 1). The search requests
// only the subject field (_elements=subject) to avoid pulling full
// MedicationDispense payloads for a fleet-wide scan.
func (s *DispenseService) DiscoverPatients(ctx context.Context, measurementYear int) ([]string, error) {
	yearStart := fmt.Sprintf("%d-01-01", measurementYear)
	yearEnd := fmt.Sprintf("%d-12-31", measurementYear)

	query := url.Values{}
	query.Set("status", "completed")
	query.Set("whenhandedover", "ge"+yearStart)
	query.Add("whenhandedover", "le"+yearEnd)
	query.Set("_elements", "subject")
	query.Set("_count", "1000")

	path := "/MedicationDispense?" + query.Encode()

	var b bundle
	status, err := s.client.do(ctx, "GET", path, nil, &b)
	if err != nil {
		logging.FHIRLogger().Error("patient discovery search failed",
			logging.WithComponent("fhir-dispense"), logging.WithHTTPStatus(status), logging.WithError(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrFHIRReadFailed, err)
	}

	seen := make(map[string]bool)
	var patients []string
	for _, entry := range b.Entry {
		var r dispenseResource
		if err := json.Unmarshal(entry.Resource, &r); err != nil {
			continue
		}
		if r.Subject.Reference == "" || seen[r.Subject.Reference] {
			continue
		}
		seen[r.Subject.Reference] = true
		patients = append(patients, r.Subject.Reference)
	}
	return patients, nil
}
