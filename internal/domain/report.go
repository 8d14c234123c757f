package domain

// SuspiciousAccount is one row of the report's account listing.
type SuspiciousAccount struct {
	AccountID        string       `json:"account_id"`
	SuspicionScore   float64      `json:"suspicion_score"`
	DetectedPatterns []PatternTag `json:"detected_patterns"`
	RingID           string       `json:"ring_id,omitempty"`
}

// ReportSummary carries batch-level counts and timing.
type ReportSummary struct {
	TotalAccountsAnalyzed    int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int    `json:"suspicious_accounts_flagged"`
	FraudRingsDetected       int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds    float64 `json:"processing_time_seconds"`
}

// Report is the external result of one batch analysis.
// Accounts are sorted by descending suspicion score (insertion order on
// ties); rings appear in assignment order.
type Report struct {
	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            ReportSummary       `json:"summary"`
}
