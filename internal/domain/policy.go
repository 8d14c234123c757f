package domain

// PolicyConfig defines an alert policy evaluated over analyzed accounts.
// Policies run after the detection engine and classify flagged accounts
// into triage outcomes; they never change detection results.
type PolicyConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluated per suspicious account.
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping.
	Bands []PolicyBand `json:"bands"`

	// Whether the policy is active.
	Enabled bool `json:"enabled"`
}

// PolicyBand maps a score range to a triage outcome.
type PolicyBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // e.g., ".note", ".review", ".escalate"
	Reason     string   `json:"reason"`
}

// PolicyResult is the output of one policy against one account.
type PolicyResult struct {
	PolicyID  string  `json:"policyId"`
	TenantID  string  `json:"tenantId"`
	AccountID string  `json:"accountId"`
	Outcome   string  `json:"outcome"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"processMs"`
}

// Predefined policy outcomes
const (
	PolicyOutcomeNote     = ".note"
	PolicyOutcomeReview   = ".review"
	PolicyOutcomeEscalate = ".escalate"
	PolicyOutcomeError    = ".err"
)
