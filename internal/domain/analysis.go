package domain

import (
	"time"
)

// Analysis is the persisted record of one batch analysis.
type Analysis struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Status is "DONE", "PEND", or "FAIL".
	Status string `json:"status"`

	// TriageStatus is "ALRT" when any policy escalated or review outcomes
	// reached the triage review threshold, else "CLR".
	TriageStatus string `json:"triageStatus"`

	TransactionCount int `json:"transactionCount"`

	Report        *Report        `json:"report,omitempty"`
	PolicyResults []PolicyResult `json:"policyResults,omitempty"`

	// Graph is filled only when the request asks for it. It is part of
	// the response, never of the persisted record.
	Graph *GraphSummary `json:"graph,omitempty"`

	// Error holds the failure reason when Status is "FAIL".
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	Metadata AnalysisMetadata `json:"metadata"`
}

// AnalysisMetadata carries processing information.
type AnalysisMetadata struct {
	TraceID          string `json:"traceId"`
	IngestMs         int64  `json:"ingestMs"`
	EngineMs         int64  `json:"engineMs"`
	PolicyMs         int64  `json:"policyMs"`
	TotalMs          int64  `json:"totalMs"`
	PoliciesEvaluated int   `json:"policiesEvaluated"`
	EngineVersion    string `json:"engineVersion"`
	Cached           bool   `json:"cached"`
}

// GraphEdge is one directed transfer in the exported graph view.
type GraphEdge struct {
	TransactionID string    `json:"transaction_id"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// GraphSummary is a serializable view of the transaction graph. Nodes
// appear in first-appearance order, edges in batch time order.
type GraphSummary struct {
	Nodes     []Account   `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	NodeCount int         `json:"node_count"`
	EdgeCount int         `json:"edge_count"`
}

// Analysis status constants
const (
	AnalysisStatusDone    = "DONE"
	AnalysisStatusPending = "PEND"
	AnalysisStatusFailed  = "FAIL"
)

// Triage status constants
const (
	TriageStatusAlert = "ALRT"
	TriageStatusClear = "CLR"
)
