package pdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepath/pdc-engine/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fill(y int, m time.Month, d int, days int) domain.FillRecord {
	return domain.FillRecord{FillDate: date(y, m, d), DaysSupply: days}
}

func TestCalculatePDC_ScenarioA_OverlappingFillsMidYear(t *testing.T) {
	c := NewCalculator(0.20)
	result, warnings := c.CalculatePDC(Input{
		Fills: []domain.FillRecord{
			fill(2025, time.January, 15, 30),
			fill(2025, time.February, 14, 30),
			fill(2025, time.March, 16, 30),
			fill(2025, time.April, 15, 30),
			fill(2025, time.May, 15, 30),
			fill(2025, time.May, 30, 30),
		},
		MeasurementYear: 2025,
		CurrentDate:     date(2025, time.June, 15),
	})

	assert.Empty(t, warnings)
	assert.Equal(t, 351, result.TreatmentDays)
	assert.Equal(t, 165, result.CoveredDays)
	assert.InDelta(t, 0.470, result.PDC, 0.001)
	assert.InDelta(t, 0.470, result.PDCStatusQuo, 0.001)
	assert.Greater(t, result.PDCPerfect, 0.80)
}

func TestCalculatePDC_ScenarioB_LostCase(t *testing.T) {
	c := NewCalculator(0.20)
	result, _ := c.CalculatePDC(Input{
		Fills:           []domain.FillRecord{fill(2025, time.January, 15, 90)},
		MeasurementYear: 2025,
		CurrentDate:     date(2025, time.November, 15),
	})

	assert.Equal(t, 351, result.TreatmentDays)
	assert.Equal(t, 90, result.CoveredDays)
	assert.InDelta(t, 0.256, result.PDC, 0.001)
	assert.LessOrEqual(t, result.PDCPerfect, 137.0/351.0)
}

func TestCalculatePDC_ScenarioC_CompliantPatient(t *testing.T) {
	c := NewCalculator(0.20)
	var fills []domain.FillRecord
	for m := 0; m < 12; m++ {
		f := date(2025, time.January, 15).AddDate(0, m, 0)
		fills = append(fills, domain.FillRecord{FillDate: f, DaysSupply: 30})
	}
	result, _ := c.CalculatePDC(Input{
		Fills:           fills,
		MeasurementYear: 2025,
		CurrentDate:     date(2025, time.December, 1),
	})

	assert.GreaterOrEqual(t, result.PDCStatusQuo, 0.80)
	assert.True(t, result.IsCompliant(0.80))
}

func TestCalculatePDC_ScenarioD_YearEndCap(t *testing.T) {
	c := NewCalculator(0.20)
	result, _ := c.CalculatePDC(Input{
		Fills:           []domain.FillRecord{fill(2025, time.December, 1, 90)},
		MeasurementYear: 2025,
	})
	assert.Equal(t, 31, result.CoveredDays)
}

func TestCalculatePDC_ZeroFills_NoTreatmentPeriod(t *testing.T) {
	c := NewCalculator(0.20)
	result, warnings := c.CalculatePDC(Input{MeasurementYear: 2025})
	assert.Empty(t, warnings)
	assert.False(t, result.HasTreatmentPeriod())
	assert.Equal(t, 0.0, result.PDC)
	assert.Equal(t, 0, result.TreatmentDays)
}

func TestCalculatePDC_InvalidDaysSupplyDropped(t *testing.T) {
	c := NewCalculator(0.20)
	result, warnings := c.CalculatePDC(Input{
		Fills: []domain.FillRecord{
			fill(2025, time.January, 15, 0),
			fill(2025, time.January, 15, 30),
		},
		MeasurementYear: 2025,
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, 30, result.CoveredDays)
}

func TestCalculatePDC_NoDoubleCount(t *testing.T) {
	c := NewCalculator(0.20)
	single, _ := c.CalculatePDC(Input{
		Fills:           []domain.FillRecord{fill(2025, time.March, 1, 30)},
		MeasurementYear: 2025,
	})
	duplicate, _ := c.CalculatePDC(Input{
		Fills: []domain.FillRecord{
			fill(2025, time.March, 1, 30),
			fill(2025, time.March, 1, 30),
		},
		MeasurementYear: 2025,
	})
	assert.Equal(t, single.CoveredDays, duplicate.CoveredDays)
}

func TestCalculatePDC_MonotonicityUnderMoreFills(t *testing.T) {
	c := NewCalculator(0.20)
	before, _ := c.CalculatePDC(Input{
		Fills:           []domain.FillRecord{fill(2025, time.January, 1, 30)},
		MeasurementYear: 2025,
	})
	after, _ := c.CalculatePDC(Input{
		Fills: []domain.FillRecord{
			fill(2025, time.January, 1, 30),
			fill(2025, time.March, 1, 30),
		},
		MeasurementYear: 2025,
	})
	assert.GreaterOrEqual(t, after.CoveredDays, before.CoveredDays)
}

func TestCalculatePDC_BoundedAndGapArithmetic(t *testing.T) {
	c := NewCalculator(0.20)
	scenarios := []Input{
		{Fills: []domain.FillRecord{fill(2025, time.January, 1, 10)}, MeasurementYear: 2025},
		{Fills: []domain.FillRecord{fill(2025, time.June, 1, 400)}, MeasurementYear: 2025},
		{MeasurementYear: 2025},
	}
	for _, in := range scenarios {
		result, _ := c.CalculatePDC(in)
		assert.GreaterOrEqual(t, result.PDC, 0.0)
		assert.LessOrEqual(t, result.PDC, 1.0)
		assert.Equal(t, result.TreatmentDays, result.GapDaysUsed+result.CoveredDays)
		expectedAllowed := gapDaysAllowedDays(result.TreatmentDays, 0.20)
		assert.Equal(t, expectedAllowed, result.GapDaysAllowed)
	}
}
