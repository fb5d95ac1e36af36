package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispense_IsUsable(t *testing.T) {
	tests := []struct {
		name     string
		status   DispenseStatus
		reversal bool
		want     bool
	}{
		{name: "completed_not_reversed", status: DispenseCompleted, reversal: false, want: true},
		{name: "completed_but_reversed", status: DispenseCompleted, reversal: true, want: false},
		{name: "reversed_status", status: DispenseReversed, reversal: false, want: false},
		{name: "other_status", status: DispenseOther, reversal: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Dispense{Status: tt.status, ReversalFlag: tt.reversal}
			assert.Equal(t, tt.want, d.IsUsable())
		})
	}
}

func TestDispense_ToFillRecord(t *testing.T) {
	fillDate := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	t.Run("valid_days_supply", func(t *testing.T) {
		d := Dispense{FillDate: fillDate, DaysSupply: 30}
		fr, err := d.ToFillRecord()
		require.NoError(t, err)
		assert.Equal(t, fillDate, fr.FillDate)
		assert.Equal(t, 30, fr.DaysSupply)
	})

	t.Run("zero_days_supply_dropped", func(t *testing.T) {
		d := Dispense{FillDate: fillDate, DaysSupply: 0}
		_, err := d.ToFillRecord()
		assert.ErrorIs(t, err, ErrInvalidDaysSupply)
	})

	t.Run("negative_days_supply_dropped", func(t *testing.T) {
		d := Dispense{FillDate: fillDate, DaysSupply: -5}
		_, err := d.ToFillRecord()
		assert.ErrorIs(t, err, ErrInvalidDaysSupply)
	})
}

func TestFillRecord_CoverageEnd(t *testing.T) {
	f := FillRecord{FillDate: time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), DaysSupply: 90}
	want := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, f.CoverageEnd())
}
