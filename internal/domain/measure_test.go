package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTreatmentPeriod_IsValidAndDays(t *testing.T) {
	t.Run("valid_period", func(t *testing.T) {
		p := TreatmentPeriod{
			Start: time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
			End:   YearEnd(2025),
		}
		assert.True(t, p.IsValid())
		assert.Equal(t, 351, p.Days())
	})

	t.Run("first_fill_after_year_end_is_invalid", func(t *testing.T) {
		p := TreatmentPeriod{
			Start: time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC),
			End:   YearEnd(2025),
		}
		assert.False(t, p.IsValid())
		assert.Equal(t, 0, p.Days())
	})
}

func TestMeasureBucket_AllFills(t *testing.T) {
	b := MeasureBucket{
		Measure: MAH,
		Medications: []MedicationFills{
			{RxNorm: "1", Fills: []FillRecord{{DaysSupply: 30}, {DaysSupply: 30}}},
			{RxNorm: "2", Fills: []FillRecord{{DaysSupply: 90}}},
		},
	}
	assert.Len(t, b.AllFills(), 3)
}

func TestYearEnd(t *testing.T) {
	assert.Equal(t, time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), YearEnd(2025))
}
