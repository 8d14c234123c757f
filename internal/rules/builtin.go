package rules

import "github.com/opensource-finance/harrier/internal/domain"

func limit(v float64) *float64 { return &v }

// BuiltinPolicies returns the default policy set loaded when the
// repository holds none. Tenants override these via the policies API.
func BuiltinPolicies() []*domain.PolicyConfig {
	return []*domain.PolicyConfig{
		{
			ID:          "policy-score-band",
			Name:        "Suspicion score banding",
			Description: "Maps the raw suspicion score to a triage outcome.",
			Version:     "1.0",
			Expression:  "suspicion_score",
			Bands: []domain.PolicyBand{
				{LowerLimit: limit(0), UpperLimit: limit(40), Outcome: domain.PolicyOutcomeNote, Reason: "low suspicion score"},
				{LowerLimit: limit(40), UpperLimit: limit(70), Outcome: domain.PolicyOutcomeReview, Reason: "moderate suspicion score"},
				{LowerLimit: limit(70), Outcome: domain.PolicyOutcomeEscalate, Reason: "high suspicion score"},
			},
			Enabled: true,
		},
		{
			ID:          "policy-cycle-participant",
			Name:        "Cycle participant",
			Description: "Accounts inside a closed transfer loop warrant review.",
			Version:     "1.0",
			Expression:  `patterns.exists(p, p.startsWith("cycle_length"))`,
			Bands: []domain.PolicyBand{
				{LowerLimit: limit(1), Outcome: domain.PolicyOutcomeReview, Reason: "member of a transfer cycle"},
				{UpperLimit: limit(1), Outcome: domain.PolicyOutcomeNote, Reason: "no cycle participation"},
			},
			Enabled: true,
		},
		{
			ID:          "policy-large-ring",
			Name:        "Large ring escalation",
			Description: "Rings with many members indicate organized activity.",
			Version:     "1.0",
			Expression:  "ring_size >= 5",
			Bands: []domain.PolicyBand{
				{LowerLimit: limit(1), Outcome: domain.PolicyOutcomeEscalate, Reason: "ring has five or more members"},
				{UpperLimit: limit(1), Outcome: domain.PolicyOutcomeNote, Reason: "small or no ring"},
			},
			Enabled: true,
		},
	}
}
