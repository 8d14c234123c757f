//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running
// Harrier server.
//
// These tests exercise the complete analysis path:
//
//	CSV/JSON batch → Graph → Detectors → Scoring → Policies → Triage
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must be running with the builtin policy set loaded (the
// default on a fresh database):
//
//	go run cmd/harrier/main.go
//
// Point HARRIER_TEST_URL at a non-default address if needed.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		// Unique tenant per run keeps reruns isolated from cached
		// reports and prior analyses.
		TenantID: fmt.Sprintf("it-%d", time.Now().UnixNano()),
	}
}

// Transaction mirrors the API's batch item contract.
type Transaction struct {
	TransactionID string  `json:"transaction_id"`
	SenderID      string  `json:"sender_id"`
	ReceiverID    string  `json:"receiver_id"`
	Amount        float64 `json:"amount"`
	Timestamp     string  `json:"timestamp"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Transactions []Transaction `json:"transactions"`
}

// Analysis is the subset of the response these tests assert on.
type Analysis struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	TriageStatus string `json:"triageStatus"`
	Report       *struct {
		SuspiciousAccounts []struct {
			AccountID        string   `json:"account_id"`
			SuspicionScore   float64  `json:"suspicion_score"`
			DetectedPatterns []string `json:"detected_patterns"`
			RingID           string   `json:"ring_id"`
		} `json:"suspicious_accounts"`
		FraudRings []struct {
			RingID  string   `json:"ring_id"`
			Members []string `json:"member_accounts"`
		} `json:"fraud_rings"`
		Summary struct {
			TotalAccountsAnalyzed     int `json:"total_accounts_analyzed"`
			SuspiciousAccountsFlagged int `json:"suspicious_accounts_flagged"`
			FraudRingsDetected        int `json:"fraud_rings_detected"`
		} `json:"summary"`
	} `json:"report"`
	Metadata struct {
		TraceID string `json:"traceId"`
		Cached  bool   `json:"cached"`
	} `json:"metadata"`
}

func analyze(t *testing.T, config TestConfig, req AnalyzeRequest) Analysis {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return postBatch(t, config, "/analyze", "application/json", body)
}

func postBatch(t *testing.T, config TestConfig, path, contentType string, body []byte) Analysis {
	t.Helper()

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result Analysis
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func cycleBatch(prefix string, members int) []Transaction {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	txs := make([]Transaction, 0, members)
	for i := 0; i < members; i++ {
		txs = append(txs, Transaction{
			TransactionID: fmt.Sprintf("%s-t%d", prefix, i+1),
			SenderID:      fmt.Sprintf("%s-m%d", prefix, i),
			ReceiverID:    fmt.Sprintf("%s-m%d", prefix, (i+1)%members),
			Amount:        300,
			Timestamp:     base.Add(time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05"),
		})
	}
	return txs
}

// A regular payroll pattern: one employer paying a stable roster on a
// monthly cadence. No account should be flagged.
func TestPayrollBatch_Clear(t *testing.T) {
	config := getTestConfig()

	var txs []Transaction
	base := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	seq := 0
	for month := 0; month < 3; month++ {
		for emp := 0; emp < 5; emp++ {
			seq++
			txs = append(txs, Transaction{
				TransactionID: fmt.Sprintf("pay-t%d", seq),
				SenderID:      "pay-employer",
				ReceiverID:    fmt.Sprintf("pay-emp%d", emp),
				Amount:        3200,
				Timestamp:     base.AddDate(0, month, 0).Format("2006-01-02 15:04:05"),
			})
		}
	}

	result := analyze(t, config, AnalyzeRequest{Transactions: txs})

	if result.Status != "DONE" {
		t.Errorf("status = %s, want DONE", result.Status)
	}
	if result.TriageStatus != "CLR" {
		t.Errorf("triage = %s, want CLR", result.TriageStatus)
	}
	if n := result.Report.Summary.SuspiciousAccountsFlagged; n != 0 {
		t.Errorf("flagged = %d, want 0 for payroll traffic", n)
	}
}

// A three-member cycle ring flags all members but stays below the
// escalation policies.
func TestTriangleRing_Flagged(t *testing.T) {
	config := getTestConfig()

	result := analyze(t, config, AnalyzeRequest{Transactions: cycleBatch("tri", 3)})

	if result.Status != "DONE" {
		t.Fatalf("status = %s", result.Status)
	}
	if n := result.Report.Summary.SuspiciousAccountsFlagged; n != 3 {
		t.Errorf("flagged = %d, want 3", n)
	}
	if n := result.Report.Summary.FraudRingsDetected; n != 1 {
		t.Errorf("rings = %d, want 1", n)
	}
	for _, acct := range result.Report.SuspiciousAccounts {
		if acct.RingID == "" {
			t.Errorf("account %s has no ring assignment", acct.AccountID)
		}
	}
	if result.TriageStatus != "CLR" {
		t.Errorf("triage = %s, want CLR for a lone triangle", result.TriageStatus)
	}
}

// A five-member ring trips the builtin large-ring policy and escalates.
func TestLargeRing_Alert(t *testing.T) {
	config := getTestConfig()

	result := analyze(t, config, AnalyzeRequest{Transactions: cycleBatch("big", 5)})

	if result.TriageStatus != "ALRT" {
		t.Errorf("triage = %s, want ALRT for a five-member ring", result.TriageStatus)
	}
}

// Submitting the same batch twice returns the cached report.
func TestRepeatBatch_Cached(t *testing.T) {
	config := getTestConfig()
	req := AnalyzeRequest{Transactions: cycleBatch("rep", 3)}

	first := analyze(t, config, req)
	if first.Metadata.Cached {
		t.Fatal("first submission should not be cached")
	}

	second := analyze(t, config, req)
	if !second.Metadata.Cached {
		t.Error("repeat submission should hit the report cache")
	}
	if second.Report.Summary.SuspiciousAccountsFlagged != first.Report.Summary.SuspiciousAccountsFlagged {
		t.Error("cached report diverges from original")
	}
}

// The CSV endpoint produces the same analysis as the JSON endpoint.
func TestCSVBatch(t *testing.T) {
	config := getTestConfig()

	csv := "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
		"csv-t1,csv-A,csv-B,500,2025-03-01 10:00:00\n" +
		"csv-t2,csv-B,csv-C,450,2025-03-01 11:00:00\n" +
		"csv-t3,csv-C,csv-A,400,2025-03-01 12:00:00\n"

	result := postBatch(t, config, "/analyze/csv", "text/csv", []byte(csv))

	if result.Status != "DONE" {
		t.Fatalf("status = %s", result.Status)
	}
	if n := result.Report.Summary.SuspiciousAccountsFlagged; n != 3 {
		t.Errorf("flagged = %d, want 3", n)
	}
}

// Persisted analyses are retrievable by ID under the same tenant.
func TestAnalysisRetrieval(t *testing.T) {
	config := getTestConfig()

	submitted := analyze(t, config, AnalyzeRequest{Transactions: cycleBatch("get", 3)})

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/analyses/"+submitted.ID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	var got Analysis
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if got.ID != submitted.ID || got.Status != "DONE" {
		t.Errorf("got = %+v", got)
	}
}
