package fragility

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carepath/pdc-engine/internal/domain"
)

func TestClassify_Compliant(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	result := c.Classify(Input{
		PDCResult: domain.PDCResult{PDCStatusQuo: 0.95, PDCPerfect: 0.99},
	})
	assert.Equal(t, domain.Compliant, result.Tier)
	assert.True(t, result.Flags.IsCompliant)
}

func TestClassify_Unsalvageable(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	result := c.Classify(Input{
		PDCResult: domain.PDCResult{PDCStatusQuo: 0.256, PDCPerfect: 0.390},
	})
	assert.Equal(t, domain.T5Unsalvageable, result.Tier)
	assert.Equal(t, 0, result.PriorityScore)
	assert.True(t, result.Flags.IsUnsalvageable)
}

func TestClassify_ComplianceBeatsUnsalvageableTieBreak(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	result := c.Classify(Input{
		PDCResult: domain.PDCResult{PDCStatusQuo: 0.80, PDCPerfect: 0.50},
	})
	assert.Equal(t, domain.Compliant, result.Tier)
}

func TestClassify_TierBoundariesWithoutQ4(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	tests := []struct {
		name             string
		gapDaysRemaining int
		refillsRemaining int
		want             domain.FragilityTier
	}{
		{name: "f1_imminent", gapDaysRemaining: 2, refillsRemaining: 1, want: domain.F1Imminent},
		{name: "f2_fragile", gapDaysRemaining: 5, refillsRemaining: 1, want: domain.F2Fragile},
		{name: "f3_moderate", gapDaysRemaining: 10, refillsRemaining: 1, want: domain.F3Moderate},
		{name: "f4_comfortable", gapDaysRemaining: 20, refillsRemaining: 1, want: domain.F4Comfortable},
		{name: "f5_safe", gapDaysRemaining: 21, refillsRemaining: 1, want: domain.F5Safe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(Input{
				PDCResult: domain.PDCResult{
					PDCStatusQuo:     0.5,
					PDCPerfect:       0.9,
					GapDaysRemaining: tt.gapDaysRemaining,
				},
				RefillsRemaining: tt.refillsRemaining,
			})
			assert.Equal(t, tt.want, result.Tier)
		})
	}
}

func TestClassify_Q4TighteningShiftsTier(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	in := Input{
		PDCResult: domain.PDCResult{
			PDCStatusQuo:     0.5,
			PDCPerfect:       0.9,
			GapDaysRemaining: 6, // 6/1=6 -> F3 without tightening, *0.8=4.8 -> F2 with it
		},
		RefillsRemaining: 1,
	}

	withoutQ4 := c.Classify(in)
	assert.False(t, withoutQ4.Flags.Q4Tightened)
	assert.Equal(t, domain.F3Moderate, withoutQ4.Tier)

	in.CurrentMonth = 11
	withQ4 := c.Classify(in)
	assert.True(t, withQ4.Flags.Q4Tightened)
	assert.Equal(t, domain.F2Fragile, withQ4.Tier)
	assert.LessOrEqual(t, withQ4.DelayBudgetPerRefill*DefaultConfig().Q4TighteningFactor, withoutQ4.DelayBudgetPerRefill)
}

func TestClassify_PriorityScoreBonusesAndClamping(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	result := c.Classify(Input{
		PDCResult: domain.PDCResult{
			PDCStatusQuo:     0.5,
			PDCPerfect:       0.9,
			GapDaysRemaining: 2,
		},
		RefillsRemaining: 1,
		MeasureCount:     2,
		IsNewPatient:     true,
		CurrentMonth:     11,
		DaysUntilRunout:  -3,
		HasRunoutData:    true,
	})

	// base 100 (F1) + 30 (out of meds) + 25 (q4) + 15 (multi-measure) + 10 (new patient) = 180
	assert.Equal(t, 180, result.PriorityScore)
	assert.Equal(t, domain.UrgencyExtreme, result.UrgencyLevel)
	assert.True(t, result.Bonuses.OutOfMeds)
	assert.True(t, result.Bonuses.Q4)
	assert.True(t, result.Bonuses.MultiMeasure)
	assert.True(t, result.Bonuses.NewPatient)
}

func TestClassify_PriorityScoreNeverExceeds200(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriorityBonuses = PriorityBonuses{OutOfMeds: 100, Q4: 100, MultiMeasure: 100, NewPatient: 100}
	c := NewClassifier(cfg)
	result := c.Classify(Input{
		PDCResult: domain.PDCResult{
			PDCStatusQuo:     0.5,
			PDCPerfect:       0.9,
			GapDaysRemaining: 2,
		},
		RefillsRemaining: 1,
		MeasureCount:     3,
		IsNewPatient:     true,
		CurrentMonth:     12,
		DaysUntilRunout:  -1,
		HasRunoutData:    true,
	})
	assert.Equal(t, 200, result.PriorityScore)
}
