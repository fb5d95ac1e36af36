package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/carepath/pdc-engine/internal/classification"
	"github.com/carepath/pdc-engine/internal/domain"
	"github.com/carepath/pdc-engine/internal/fhir"
	"github.com/carepath/pdc-engine/internal/fragility"
	"github.com/carepath/pdc-engine/internal/logging"
	"github.com/carepath/pdc-engine/internal/pdc"
	"github.com/carepath/pdc-engine/internal/refill"
)

// Orchestrator composes the pure calculators with the FHIR-facing services
// into the per-patient pipeline spec §4.6 describes.
type Orchestrator struct {
	Classification *classification.Table
	Calculator     *pdc.Calculator
	Classifier     *fragility.Classifier
	Dispenses      *fhir.DispenseService
	Observations   *fhir.ObservationService
	PatientExt     *fhir.PatientExtensionService
}

// New builds an Orchestrator from its collaborators.
func New(classificationTable *classification.Table, calculator *pdc.Calculator, classifier *fragility.Classifier, dispenses *fhir.DispenseService, observations *fhir.ObservationService, patientExt *fhir.PatientExtensionService) *Orchestrator {
	return &Orchestrator{
		Classification: classificationTable,
		Calculator:     calculator,
		Classifier:     classifier,
		Dispenses:      dispenses,
		Observations:   observations,
		PatientExt:     patientExt,
	}
}

// CalculateAndStore runs the full pipeline for one patient (spec §4.6).
func (o *Orchestrator) CalculateAndStore(ctx context.Context, patientID, patientRef string, opts Options) Result {
	if opts.CurrentDate.IsZero() {
		opts.CurrentDate = time.Now()
	}
	result := newResult(patientID, patientRef, opts)

	dispenses, err := o.Dispenses.FetchDispenses(ctx, patientRef, opts.MeasurementYear)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetch dispenses: %v", err))
		return result
	}

	buckets, unclassified, dropped := o.classify(dispenses)
	if unclassified > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d dispense(s) had an unclassified medication code", unclassified))
	}
	if dropped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d dispense(s) dropped for invalid days supply", dropped))
	}

	measureCount := len(buckets)
	var writtenCurrents []domain.StoredObservation

	for _, measure := range domain.AllMAMeasures {
		bucket, ok := buckets[measure]
		if !ok {
			continue
		}

		if ctx.Err() != nil {
			result.Measures = append(result.Measures, MeasureResult{Measure: measure, TimedOut: true})
			result.Errors = append(result.Errors, fmt.Sprintf("measure %s: %v", measure, domain.ErrTimedOut))
			continue
		}

		measureResult, warnings, errs, currents := o.runMeasure(ctx, patientRef, measure, bucket, measureCount, opts)
		result.Measures = append(result.Measures, measureResult)
		result.Warnings = append(result.Warnings, warnings...)
		result.Errors = append(result.Errors, errs...)
		writtenCurrents = append(writtenCurrents, currents...)
	}

	if opts.UpdatePatientExtensions && !opts.DryRun && len(writtenCurrents) > 0 {
		summary := fhir.AggregateSummary(writtenCurrents, opts.CurrentDate)
		if err := o.PatientExt.UpdateSummary(ctx, patientID, summary); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("patient summary update: %v", err))
		} else {
			result.Summary = summary
		}
	}

	return result
}

// classify groups usable dispenses into per-measure, per-medication buckets,
// returning the unclassified-dispense count (spec §4.6 step 2, §7
// "classification miss") and the count of dispenses dropped for an invalid
// days supply as telemetry.
func (o *Orchestrator) classify(dispenses []domain.Dispense) (map[domain.MAMeasure]domain.MeasureBucket, int, int) {
	type key struct {
		measure domain.MAMeasure
		rxnorm  string
	}
	groups := make(map[key]*domain.MedicationFills)
	order := make(map[domain.MAMeasure][]string)
	unclassified := 0
	dropped := 0

	for _, d := range dispenses {
		measure, ok := o.Classification.Classify(d.MedicationCode)
		if !ok {
			unclassified++
			continue
		}
		fill, err := d.ToFillRecord()
		if err != nil {
			dropped++
			continue
		}

		k := key{measure: measure, rxnorm: d.MedicationCode}
		mf, exists := groups[k]
		if !exists {
			mf = &domain.MedicationFills{RxNorm: d.MedicationCode, Display: d.MedicationName}
			groups[k] = mf
			order[measure] = append(order[measure], d.MedicationCode)
		}
		mf.Fills = append(mf.Fills, fill)
	}

	buckets := make(map[domain.MAMeasure]domain.MeasureBucket, len(order))
	for measure, rxnorms := range order {
		bucket := domain.MeasureBucket{Measure: measure}
		seen := make(map[string]bool, len(rxnorms))
		for _, code := range rxnorms {
			if seen[code] {
				continue
			}
			seen[code] = true
			bucket.Medications = append(bucket.Medications, *groups[key{measure: measure, rxnorm: code}])
		}
		buckets[measure] = bucket
	}
	return buckets, unclassified, dropped
}

// runMeasure implements spec §4.6 step 3 for one measure: medication-level
// observations are computed and written, then the measure-level observation
// they reference as their parent. The measure-level observation's id is generated up
// front so the medication-level writes (which happen first, per §5/§9) can
// carry a valid parentMeasureObservation pointer before that resource exists.
func (o *Orchestrator) runMeasure(ctx context.Context, patientRef string, measure domain.MAMeasure, bucket domain.MeasureBucket, measureCount int, opts Options) (MeasureResult, []string, []string, []domain.StoredObservation) {
	var warnings, errs []string
	var currents []domain.StoredObservation

	measureObsID := ""
	if !opts.DryRun {
		measureObsID = o.Observations.NewObservationID()
	}

	medicationResults := make([]MedicationResult, 0, len(bucket.Medications))
	if opts.IncludeMedicationLevel {
		for _, med := range bucket.Medications {
			medResult, medWarnings, medErr, medObs := o.runMedication(ctx, patientRef, measure, med, measureObsID, measureCount, opts)
			warnings = append(warnings, medWarnings...)
			if medErr != "" {
				errs = append(errs, medErr)
			}
			if medResult != nil {
				medicationResults = append(medicationResults, *medResult)
			}
			if medObs != nil {
				currents = append(currents, *medObs)
			}
		}
	}

	measurePDC, measureWarnings := o.Calculator.CalculatePDC(pdc.Input{
		Fills:           bucket.AllFills(),
		MeasurementYear: opts.MeasurementYear,
		CurrentDate:     opts.CurrentDate,
	})
	warnings = append(warnings, measureWarnings...)

	if !measurePDC.HasTreatmentPeriod() {
		return MeasureResult{Measure: measure}, warnings, errs, currents
	}

	measureFragility := o.Classifier.Classify(fragility.Input{
		PDCResult:        measurePDC,
		RefillsRemaining: estimateRemainingRefills(bucket.AllFills(), opts.CurrentDate, measurePDC.TreatmentPeriod.End),
		MeasureCount:     measureCount,
		IsNewPatient:     isNewPatient(bucket.AllFills(), opts.CurrentDate),
		CurrentMonth:     int(opts.CurrentDate.Month()),
		HasRunoutData:    false,
	})

	measureResult := MeasureResult{
		Measure:     measure,
		PDCResult:   measurePDC,
		Fragility:   measureFragility,
		Medications: medicationResults,
	}

	if !opts.DryRun {
		obs, err := o.Observations.StoreMeasurePDCWithID(ctx, measureObsID, patientRef, measure, measurePDC, measureFragility, opts.CurrentDate)
		if err != nil {
			errs = append(errs, fmt.Sprintf("measure %s observation write: %v", measure, err))
			logging.OrchestratorLogger().Error("measure observation write failed",
				logging.WithPatientRef(patientRef), logging.WithMeasure(string(measure)), logging.WithError(err))
		} else {
			currents = append(currents, obs)
		}
	}

	return measureResult, warnings, errs, currents
}

// runMedication computes and (unless dryRun) stores one medication's
// projection/classification within a measure bucket. measureCount is the
// patient's overall MA-measure participation (spec §4.2's measureTypes),
// the same value runMeasure passes to its own Classifier.Classify call —
// the +15 multi-measure bonus applies identically at medication level.
func (o *Orchestrator) runMedication(ctx context.Context, patientRef string, measure domain.MAMeasure, med domain.MedicationFills, measureObsID string, measureCount int, opts Options) (*MedicationResult, []string, string, *domain.StoredObservation) {
	medPDC, warnings := o.Calculator.CalculatePDC(pdc.Input{
		Fills:           med.Fills,
		MeasurementYear: opts.MeasurementYear,
		CurrentDate:     opts.CurrentDate,
	})
	if !medPDC.HasTreatmentPeriod() {
		return nil, warnings, "", nil
	}

	treatmentEnd := domain.YearEnd(opts.MeasurementYear)
	remainingRefills := estimateRemainingRefills(med.Fills, opts.CurrentDate, treatmentEnd)

	projection := refill.Project(refill.Input{
		RxNorm:           med.RxNorm,
		Display:          med.Display,
		Fills:            med.Fills,
		CurrentDate:      opts.CurrentDate,
		RefillsRemaining: remainingRefills,
		TreatmentEnd:     treatmentEnd,
	})

	medFragility := o.Classifier.Classify(fragility.Input{
		PDCResult:        medPDC,
		RefillsRemaining: remainingRefills,
		MeasureCount:     measureCount,
		IsNewPatient:     isNewPatient(med.Fills, opts.CurrentDate),
		CurrentMonth:     int(opts.CurrentDate.Month()),
		DaysUntilRunout:  projection.DaysUntilRunout,
		HasRunoutData:    true,
	})

	result := &MedicationResult{
		RxNorm:     med.RxNorm,
		Display:    med.Display,
		PDCResult:  medPDC,
		Fragility:  medFragility,
		Projection: projection,
	}

	if opts.DryRun {
		return result, warnings, "", nil
	}

	obs, err := o.Observations.StoreMedicationPDC(ctx, patientRef, measure, projection, medPDC, medFragility, measureObsID, opts.CurrentDate)
	if err != nil {
		logging.OrchestratorLogger().Error("medication observation write failed",
			logging.WithPatientRef(patientRef), logging.WithMeasure(string(measure)), logging.WithError(err))
		return result, warnings, fmt.Sprintf("medication %s observation write: %v", med.RxNorm, err), nil
	}
	return result, warnings, "", &obs
}

// isNewPatient implements spec §4.2's isNewPatient input: true when the
// earliest fill in fills falls within 90 days of currentDate.
func isNewPatient(fills []domain.FillRecord, currentDate time.Time) bool {
	if len(fills) == 0 {
		return false
	}
	earliest := fills[0].FillDate
	for _, f := range fills[1:] {
		if f.FillDate.Before(earliest) {
			earliest = f.FillDate
		}
	}
	return currentDate.Sub(earliest) <= 90*24*time.Hour
}

// estimateRemainingRefills projects how many more refills a patient is
// likely to pick up before the treatment period ends, from the historical
// refill cadence already observed. The MedicationDispense resources this
// engine reads carry no authoritative "refills remaining" count (that lives
// on the originating MedicationRequest, out of scope per spec §1), so this
// is a derived estimate rather than a stored fact: average historical
// daysSupply projected forward across the days left in the treatment period.
func estimateRemainingRefills(fills []domain.FillRecord, currentDate, treatmentEnd time.Time) int {
	if len(fills) == 0 || !treatmentEnd.After(currentDate) {
		return 0
	}

	totalDaysSupply := 0
	for _, f := range fills {
		totalDaysSupply += f.DaysSupply
	}
	avgDaysSupply := float64(totalDaysSupply) / float64(len(fills))
	if avgDaysSupply <= 0 {
		return 0
	}

	daysRemaining := treatmentEnd.Sub(currentDate).Hours() / 24
	return int(math.Ceil(daysRemaining / avgDaysSupply))
}
