// Package fragility translates a PDCResult plus contextual inputs into a
// seven-tier FragilityResult: tier, priority score, urgency, and the
// delay-budget/contact-window metadata downstream outreach relies on. Every
// function here is pure.
package fragility

import (
	"github.com/carepath/pdc-engine/internal/domain"
)

// TierBoundaries are the days-per-refill thresholds mapping an
// (optionally Q4-tightened) delay budget onto an F-tier. Defaults from
// spec §6: f1=2, f2=5, f3=10, f4=20.
type TierBoundaries struct {
	F1 float64
	F2 float64
	F3 float64
	F4 float64
}

// DefaultTierBoundaries returns the spec-default boundaries.
func DefaultTierBoundaries() TierBoundaries {
	return TierBoundaries{F1: 2, F2: 5, F3: 10, F4: 20}
}

// PriorityBonuses are the additive priority-score bonuses from spec §4.2.
type PriorityBonuses struct {
	OutOfMeds   int
	Q4          int
	MultiMeasure int
	NewPatient  int
}

// DefaultPriorityBonuses returns the spec-default bonus table.
func DefaultPriorityBonuses() PriorityBonuses {
	return PriorityBonuses{OutOfMeds: 30, Q4: 25, MultiMeasure: 15, NewPatient: 10}
}

// defaultPriorityBase is the spec §4.2 base score per tier.
var defaultPriorityBase = map[domain.FragilityTier]int{
	domain.F1Imminent:      100,
	domain.F2Fragile:       80,
	domain.F3Moderate:      60,
	domain.F4Comfortable:   40,
	domain.F5Safe:          20,
	domain.Compliant:       0,
	domain.T5Unsalvageable: 0,
}

// contactWindows is a fixed lookup from tier to an outreach contact window
// description, used verbatim in StoredObservation extensions.
var contactWindows = map[domain.FragilityTier]string{
	domain.F1Imminent:      "within 24 hours",
	domain.F2Fragile:       "within 3 days",
	domain.F3Moderate:      "within 1 week",
	domain.F4Comfortable:   "within 2 weeks",
	domain.F5Safe:          "routine",
	domain.Compliant:       "none",
	domain.T5Unsalvageable: "none",
}

// Config parameterizes the classifier per spec §6's configuration surface.
type Config struct {
	ComplianceThreshold float64
	Q4TighteningFactor  float64
	TierBoundaries      TierBoundaries
	PriorityBase        map[domain.FragilityTier]int
	PriorityBonuses     PriorityBonuses
}

// DefaultConfig returns spec-default thresholds and tables.
func DefaultConfig() Config {
	return Config{
		ComplianceThreshold: 0.80,
		Q4TighteningFactor:  0.80,
		TierBoundaries:      DefaultTierBoundaries(),
		PriorityBase:        defaultPriorityBase,
		PriorityBonuses:     DefaultPriorityBonuses(),
	}
}

// Classifier assigns fragility tiers and priority scores.
type Classifier struct {
	cfg Config
}

// NewClassifier builds a Classifier from the given config. Each zero-valued
// field falls back to its spec default.
func NewClassifier(cfg Config) *Classifier {
	if cfg.ComplianceThreshold <= 0 {
		cfg.ComplianceThreshold = 0.80
	}
	if cfg.Q4TighteningFactor <= 0 {
		cfg.Q4TighteningFactor = 0.80
	}
	if cfg.TierBoundaries == (TierBoundaries{}) {
		cfg.TierBoundaries = DefaultTierBoundaries()
	}
	if cfg.PriorityBase == nil {
		cfg.PriorityBase = defaultPriorityBase
	}
	if cfg.PriorityBonuses == (PriorityBonuses{}) {
		cfg.PriorityBonuses = DefaultPriorityBonuses()
	}
	return &Classifier{cfg: cfg}
}

// Input bundles the contextual arguments to Classify.
type Input struct {
	PDCResult        domain.PDCResult
	RefillsRemaining int
	MeasureCount     int // |measureTypes|, the count of MA measures this patient participates in
	IsNewPatient     bool
	CurrentMonth     int // 1-12; injected alongside currentDate, never read from the system clock
	DaysUntilRunout  int // from the medication projection; 0 treated as "already out"
	HasRunoutData    bool
}

// Classify implements the tier-assignment algorithm in spec §4.2: first
// match wins.
func (c *Classifier) Classify(in Input) domain.FragilityResult {
	isQ4 := in.CurrentMonth == 10 || in.CurrentMonth == 11 || in.CurrentMonth == 12

	var tier domain.FragilityTier
	var q4Tightened bool

	switch {
	case in.PDCResult.PDCStatusQuo >= c.cfg.ComplianceThreshold:
		tier = domain.Compliant
	case in.PDCResult.PDCPerfect < c.cfg.ComplianceThreshold:
		tier = domain.T5Unsalvageable
	default:
		refills := in.RefillsRemaining
		if refills < 1 {
			refills = 1
		}
		delayBudget := float64(in.PDCResult.GapDaysRemaining) / float64(refills)
		effectiveBudget := delayBudget
		if isQ4 {
			effectiveBudget *= c.cfg.Q4TighteningFactor
			q4Tightened = true
		}
		tier = tierFromBudget(effectiveBudget, c.cfg.TierBoundaries)
		return c.result(tier, in, isQ4, q4Tightened, delayBudget)
	}

	return c.result(tier, in, isQ4, q4Tightened, 0)
}

func tierFromBudget(budget float64, b TierBoundaries) domain.FragilityTier {
	switch {
	case budget <= b.F1:
		return domain.F1Imminent
	case budget <= b.F2:
		return domain.F2Fragile
	case budget <= b.F3:
		return domain.F3Moderate
	case budget <= b.F4:
		return domain.F4Comfortable
	default:
		return domain.F5Safe
	}
}

func (c *Classifier) result(tier domain.FragilityTier, in Input, isQ4, q4Tightened bool, delayBudget float64) domain.FragilityResult {
	score := c.cfg.PriorityBase[tier]

	bonuses := domain.FragilityBonuses{}
	if in.HasRunoutData && in.DaysUntilRunout <= 0 {
		score += c.cfg.PriorityBonuses.OutOfMeds
		bonuses.OutOfMeds = true
	}
	if isQ4 {
		score += c.cfg.PriorityBonuses.Q4
		bonuses.Q4 = true
	}
	if in.MeasureCount >= 2 {
		score += c.cfg.PriorityBonuses.MultiMeasure
		bonuses.MultiMeasure = true
	}
	if in.IsNewPatient {
		score += c.cfg.PriorityBonuses.NewPatient
		bonuses.NewPatient = true
	}

	if score < 0 {
		score = 0
	}
	if score > 200 {
		score = 200
	}

	return domain.FragilityResult{
		Tier:                 tier,
		PriorityScore:        score,
		UrgencyLevel:         urgencyFor(score),
		DelayBudgetPerRefill: delayBudget,
		ContactWindow:        contactWindows[tier],
		Flags: domain.FragilityFlags{
			IsCompliant:     tier == domain.Compliant,
			IsUnsalvageable: tier == domain.T5Unsalvageable,
			Q4Tightened:     q4Tightened,
		},
		Bonuses: bonuses,
	}
}

func urgencyFor(score int) domain.UrgencyLevel {
	switch {
	case score >= 150:
		return domain.UrgencyExtreme
	case score >= 100:
		return domain.UrgencyHigh
	case score >= 50:
		return domain.UrgencyModerate
	default:
		return domain.UrgencyLow
	}
}
