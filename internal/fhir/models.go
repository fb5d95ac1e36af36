package fhir

import (
	"encoding/json"
	"time"

	"github.com/carepath/pdc-engine/internal/domain"
)

// Wire-format types mirror only the FHIR R4 fields this engine reads or
// writes; the resources carry many more fields the server owns, which we
// never parse and always preserve verbatim for Patient updates.

type reference struct {
	Reference string `json:"reference"`
}

type coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type codeableConcept struct {
	Coding []coding `json:"coding"`
}

type quantity struct {
	Value float64 `json:"value"`
}

type extension struct {
	URL            string     `json:"url"`
	ValueString    string     `json:"valueString,omitempty"`
	ValueBoolean   *bool      `json:"valueBoolean,omitempty"`
	ValueInteger   *int       `json:"valueInteger,omitempty"`
	ValueDecimal   *float64   `json:"valueDecimal,omitempty"`
	ValueDateTime  string     `json:"valueDateTime,omitempty"`
	Extension      []extension `json:"extension,omitempty"`
}

const rxNormSystem = "http://www.nlm.nih.gov/research/umls/rxnorm"

// dispenseResource is the subset of MedicationDispense this engine reads.
type dispenseResource struct {
	ResourceType              string          `json:"resourceType"`
	Subject                   reference       `json:"subject"`
	Status                    string          `json:"status"`
	WhenHandedOver            string          `json:"whenHandedOver"`
	DaysSupply                quantity        `json:"daysSupply"`
	MedicationCodeableConcept codeableConcept `json:"medicationCodeableConcept"`
}

type bundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type bundle struct {
	ResourceType string        `json:"resourceType"`
	Entry        []bundleEntry `json:"entry"`
}

func toDomainDispense(r dispenseResource) (domain.Dispense, error) {
	fillDate, err := parseFHIRDate(r.WhenHandedOver)
	if err != nil {
		return domain.Dispense{}, err
	}

	code, display := primaryRxNormCoding(r.MedicationCodeableConcept)

	return domain.Dispense{
		PatientRef:     r.Subject.Reference,
		FillDate:       fillDate,
		DaysSupply:     int(r.DaysSupply.Value),
		MedicationCode: code,
		MedicationName: display,
		Status:         domain.DispenseStatus(r.Status),
	}, nil
}

func primaryRxNormCoding(cc codeableConcept) (code, display string) {
	for _, c := range cc.Coding {
		if c.System == rxNormSystem {
			return c.Code, c.Display
		}
	}
	if len(cc.Coding) > 0 {
		return cc.Coding[0].Code, cc.Coding[0].Display
	}
	return "", ""
}

func parseFHIRDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// observationResource is the wire format for a pdc-* Observation this
// engine creates and mutates exclusively.
type observationResource struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id,omitempty"`
	Status            string          `json:"status"`
	Code              codeableConcept `json:"code"`
	Subject           reference       `json:"subject"`
	EffectiveDateTime string          `json:"effectiveDateTime"`
	ValueQuantity     quantity        `json:"valueQuantity"`
	Extension         []extension     `json:"extension,omitempty"`
}

func toObservationResource(o domain.StoredObservation, extensionBaseURL string) observationResource {
	return observationResource{
		ResourceType:      "Observation",
		ID:                o.ID,
		Status:            "final",
		Code:              codeableConcept{Coding: []coding{{System: extensionBaseURL + "/observation-code", Code: string(o.ObservationCode)}}},
		Subject:           reference{Reference: o.PatientRef},
		EffectiveDateTime: o.EffectiveDateTime.Format(time.RFC3339),
		ValueQuantity:     quantity{Value: o.Value},
		Extension:         toExtensions(o.Extensions, extensionBaseURL),
	}
}

func toExtensions(ext domain.ObservationExtensions, base string) []extension {
	boolVal := func(b bool) *bool { return &b }
	intVal := func(i int) *int { return &i }
	floatVal := func(f float64) *float64 { return &f }

	exts := []extension{
		{URL: base + "/fragility-tier", ValueString: string(ext.FragilityTier)},
		{URL: base + "/priority-score", ValueInteger: intVal(ext.PriorityScore)},
		{URL: base + "/is-current", ValueBoolean: boolVal(ext.IsCurrent)},
		{URL: base + "/ma-measure", ValueString: string(ext.MAMeasure)},
		{URL: base + "/days-until-runout", ValueInteger: intVal(ext.DaysUntilRunout)},
		{URL: base + "/gap-days-remaining", ValueInteger: intVal(ext.GapDaysRemaining)},
		{URL: base + "/delay-budget", ValueDecimal: floatVal(ext.DelayBudget)},
		{URL: base + "/q4-adjusted", ValueBoolean: boolVal(ext.Q4Adjusted)},
		{URL: base + "/treatment-period-start", ValueDateTime: ext.TreatmentPeriod.Start.Format(time.RFC3339)},
		{URL: base + "/treatment-period-end", ValueDateTime: ext.TreatmentPeriod.End.Format(time.RFC3339)},
	}

	if ext.MedicationRxnorm != "" {
		exts = append(exts,
			extension{URL: base + "/medication-rxnorm", ValueString: ext.MedicationRxnorm},
			extension{URL: base + "/medication-display", ValueString: ext.MedicationDisplay},
			extension{URL: base + "/remaining-refills", ValueInteger: intVal(ext.RemainingRefills)},
			extension{URL: base + "/supply-on-hand", ValueInteger: intVal(ext.SupplyOnHand)},
			extension{URL: base + "/coverage-shortfall", ValueInteger: intVal(ext.CoverageShortfall)},
			extension{URL: base + "/estimated-days-per-refill", ValueDecimal: floatVal(ext.EstimatedDaysPerRefill)},
			extension{URL: base + "/parent-measure-observation", ValueString: ext.ParentMeasureObservation},
		)
	}

	return exts
}

func toDomainObservation(r observationResource, base string) domain.StoredObservation {
	effectiveDate, _ := parseFHIRDate(r.EffectiveDateTime)

	obs := domain.StoredObservation{
		ID:                r.ID,
		PatientRef:        r.Subject.Reference,
		Value:             r.ValueQuantity.Value,
		EffectiveDateTime: effectiveDate,
	}
	if len(r.Code.Coding) > 0 {
		obs.ObservationCode = domain.ObservationCode(r.Code.Coding[0].Code)
	}

	byURL := make(map[string]extension, len(r.Extension))
	for _, e := range r.Extension {
		byURL[e.URL] = e
	}

	get := func(name string) (extension, bool) {
		e, ok := byURL[base+"/"+name]
		return e, ok
	}

	if e, ok := get("fragility-tier"); ok {
		obs.Extensions.FragilityTier = domain.FragilityTier(e.ValueString)
	}
	if e, ok := get("priority-score"); ok && e.ValueInteger != nil {
		obs.Extensions.PriorityScore = *e.ValueInteger
	}
	if e, ok := get("is-current"); ok && e.ValueBoolean != nil {
		obs.Extensions.IsCurrent = *e.ValueBoolean
	}
	if e, ok := get("ma-measure"); ok {
		obs.Extensions.MAMeasure = domain.MAMeasure(e.ValueString)
	}
	if e, ok := get("days-until-runout"); ok && e.ValueInteger != nil {
		obs.Extensions.DaysUntilRunout = *e.ValueInteger
	}
	if e, ok := get("gap-days-remaining"); ok && e.ValueInteger != nil {
		obs.Extensions.GapDaysRemaining = *e.ValueInteger
	}
	if e, ok := get("delay-budget"); ok && e.ValueDecimal != nil {
		obs.Extensions.DelayBudget = *e.ValueDecimal
	}
	if e, ok := get("q4-adjusted"); ok && e.ValueBoolean != nil {
		obs.Extensions.Q4Adjusted = *e.ValueBoolean
	}
	if e, ok := get("medication-rxnorm"); ok {
		obs.Extensions.MedicationRxnorm = e.ValueString
	}
	if e, ok := get("medication-display"); ok {
		obs.Extensions.MedicationDisplay = e.ValueString
	}
	if e, ok := get("remaining-refills"); ok && e.ValueInteger != nil {
		obs.Extensions.RemainingRefills = *e.ValueInteger
	}
	if e, ok := get("supply-on-hand"); ok && e.ValueInteger != nil {
		obs.Extensions.SupplyOnHand = *e.ValueInteger
	}
	if e, ok := get("coverage-shortfall"); ok && e.ValueInteger != nil {
		obs.Extensions.CoverageShortfall = *e.ValueInteger
	}
	if e, ok := get("estimated-days-per-refill"); ok && e.ValueDecimal != nil {
		obs.Extensions.EstimatedDaysPerRefill = *e.ValueDecimal
	}
	if e, ok := get("parent-measure-observation"); ok {
		obs.Extensions.ParentMeasureObservation = e.ValueString
	}

	return obs
}

// patientResource preserves every field the server sent except our summary
// extensions: RawFields carries the untouched JSON object, and Extension is
// parsed out separately so we can merge rather than clobber.
type patientResource struct {
	RawFields map[string]json.RawMessage
	Version   string
	Extension []extension
}

func parsePatientResource(body []byte) (patientResource, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return patientResource{}, err
	}

	pr := patientResource{RawFields: raw}

	if meta, ok := raw["meta"]; ok {
		var m struct {
			VersionId string `json:"versionId"`
		}
		_ = json.Unmarshal(meta, &m)
		pr.Version = m.VersionId
	}

	if ext, ok := raw["extension"]; ok {
		_ = json.Unmarshal(ext, &pr.Extension)
	}

	return pr, nil
}

// mergeSummary replaces extensions under extensionBaseURL+"/summary-*" with
// the freshly computed PatientSummary, preserving every other extension
// and every non-extension field verbatim (spec §4.5's merge protocol).
func mergeSummary(pr patientResource, summary domain.PatientSummary, extensionBaseURL string) map[string]json.RawMessage {
	prefix := extensionBaseURL + "/summary-"

	kept := make([]extension, 0, len(pr.Extension))
	for _, e := range pr.Extension {
		if len(e.URL) < len(prefix) || e.URL[:len(prefix)] != prefix {
			kept = append(kept, e)
		}
	}

	intVal := func(i int) *int { return &i }

	summaryExts := []extension{
		{URL: prefix + "worst-tier", ValueString: string(summary.WorstTier)},
		{URL: prefix + "highest-priority-score", ValueInteger: intVal(summary.HighestPriorityScore)},
		{URL: prefix + "last-updated", ValueDateTime: summary.LastUpdated.Format(time.RFC3339)},
	}
	if summary.HasEarliestRunout {
		summaryExts = append(summaryExts, extension{
			URL:          prefix + "days-until-earliest-runout",
			ValueInteger: intVal(summary.DaysUntilEarliestRunout),
		})
	}
	for _, m := range domain.AllMAMeasures {
		if pdc, ok := summary.PDCByMeasure[m]; ok {
			val := pdc
			summaryExts = append(summaryExts, extension{
				URL:          prefix + "pdc-" + string(m),
				ValueDecimal: &val,
			})
		}
	}

	kept = append(kept, summaryExts...)

	merged := make(map[string]json.RawMessage, len(pr.RawFields))
	for k, v := range pr.RawFields {
		merged[k] = v
	}
	extBytes, _ := json.Marshal(kept)
	merged["extension"] = extBytes
	return merged
}
