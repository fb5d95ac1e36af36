package fhir

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepath/pdc-engine/internal/domain"
)

type fakeFHIRStore struct {
	mu           sync.Mutex
	observations map[string]json.RawMessage
	patients     map[string]json.RawMessage
}

func newFakeFHIRStore() *fakeFHIRStore {
	return &fakeFHIRStore{
		observations: make(map[string]json.RawMessage),
		patients:     make(map[string]json.RawMessage),
	}
}

func (s *fakeFHIRStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/Observation/"):
			id := strings.TrimPrefix(r.URL.Path, "/Observation/")
			body, _ := io.ReadAll(r.Body)
			s.observations[id] = body
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && r.URL.Path == "/Observation":
			query, _ := url.ParseQuery(r.URL.RawQuery)
			subject := query.Get("subject")
			code := query.Get("code")

			var entries []bundleEntry
			for _, raw := range s.observations {
				var res observationResource
				_ = json.Unmarshal(raw, &res)
				if subject != "" && res.Subject.Reference != subject {
					continue
				}
				if code != "" && (len(res.Code.Coding) == 0 || res.Code.Coding[0].Code != code) {
					continue
				}
				entries = append(entries, bundleEntry{Resource: raw})
			}
			_ = json.NewEncoder(w).Encode(bundle{ResourceType: "Bundle", Entry: entries})

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/Patient/"):
			id := strings.TrimPrefix(r.URL.Path, "/Patient/")
			raw, ok := s.patients[id]
			if !ok {
				raw = json.RawMessage(`{"resourceType":"Patient","id":"` + id + `"}`)
			}
			w.Write(raw)

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/Patient/"):
			id := strings.TrimPrefix(r.URL.Path, "/Patient/")
			body, _ := io.ReadAll(r.Body)
			s.patients[id] = body
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestObservationService_StoreMeasurePDC_SingleCurrentInvariant(t *testing.T) {
	store := newFakeFHIRStore()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "https://example.org/pdc", 5*time.Second, false)
	svc := NewObservationService(client, "https://example.org/pdc")

	ctx := context.Background()
	pdcResult := domain.PDCResult{PDC: 0.5, TreatmentPeriod: domain.TreatmentPeriod{}}
	fragilityResult := domain.FragilityResult{Tier: domain.F2Fragile, PriorityScore: 80}

	first, err := svc.StoreMeasurePDC(ctx, "Patient/1", domain.MAH, pdcResult, fragilityResult, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	second, err := svc.StoreMeasurePDC(ctx, "Patient/1", domain.MAH, pdcResult, fragilityResult, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	current, err := svc.GetCurrent(ctx, "Patient/1", domain.ObsPDCMAH, domain.MAH, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	all, err := svc.GetAllCurrent(ctx, "Patient/1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.ID, all[0].ID)
}

func TestObservationService_GetCurrent_NotFound(t *testing.T) {
	store := newFakeFHIRStore()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "https://example.org/pdc", 5*time.Second, false)
	svc := NewObservationService(client, "https://example.org/pdc")

	_, err := svc.GetCurrent(context.Background(), "Patient/2", domain.ObsPDCMAC, domain.MAC, "")
	assert.ErrorIs(t, err, domain.ErrObservationNotFound)
}
