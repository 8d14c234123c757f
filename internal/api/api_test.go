package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/triage"
	"github.com/opensource-finance/harrier/internal/velocity"
	"github.com/opensource-finance/harrier/internal/worker"
)

type testEnv struct {
	server *Server
	repo   domain.Repository
	events domain.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	policies, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	if err := policies.LoadPolicies(rules.BuiltinPolicies()); err != nil {
		t.Fatalf("failed to load builtin policies: %v", err)
	}

	events := bus.NewChannelBus(100)
	t.Cleanup(func() { events.Close() })

	reportCache := cache.NewLRUCache(100)

	pipeline := service.NewPipeline(
		engine.New(domain.DefaultThresholds()),
		policies,
		triage.NewProcessor(),
		repo,
		reportCache,
		events,
	)

	cfg := domain.ServerConfig{MaxBatchSize: 1000}
	server := NewServer(cfg, repo, reportCache, events, pipeline, policies, "test")

	return &testEnv{server: server, repo: repo, events: events}
}

func (e *testEnv) request(t *testing.T, method, path, tenantID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func triangleRequest() AnalyzeRequest {
	return AnalyzeRequest{
		Transactions: []domain.TransactionRequest{
			{TransactionID: "t1", SenderID: "A", ReceiverID: "B", Amount: 500, Timestamp: "2025-03-01 10:00:00"},
			{TransactionID: "t2", SenderID: "B", ReceiverID: "C", Amount: 450, Timestamp: "2025-03-01 11:00:00"},
			{TransactionID: "t3", SenderID: "C", ReceiverID: "A", Amount: 400, Timestamp: "2025-03-01 12:00:00"},
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	var health map[string]string
	json.Unmarshal(w.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %+v", health)
	}

	w = env.request(t, http.MethodGet, "/ready", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}
}

func TestTenantRequired(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(triangleRequest())
	w := env.request(t, http.MethodPost, "/analyze", "", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without tenant header", w.Code)
	}
}

func TestAnalyzeSync(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	body, _ := json.Marshal(triangleRequest())
	w := env.request(t, http.MethodPost, "/analyze", tenantID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var analysis domain.Analysis
	if err := json.Unmarshal(w.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("failed to parse analysis: %v", err)
	}

	if analysis.Status != domain.AnalysisStatusDone {
		t.Errorf("status = %s", analysis.Status)
	}
	if analysis.Report == nil || analysis.Report.Summary.SuspiciousAccountsFlagged != 3 {
		t.Errorf("report = %+v", analysis.Report)
	}
	if len(analysis.PolicyResults) == 0 {
		t.Error("expected policy results")
	}

	t.Run("Retrievable", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/analyses/"+analysis.ID, tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get status = %d", w.Code)
		}

		var got domain.Analysis
		json.Unmarshal(w.Body.Bytes(), &got)
		if got.ID != analysis.ID || got.Status != domain.AnalysisStatusDone {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("TenantIsolated", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/analyses/"+analysis.ID, "tenant-002", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 for other tenant", w.Code)
		}
	})

	t.Run("Listed", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/analyses?limit=10", tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list status = %d", w.Code)
		}

		var resp struct {
			Analyses []domain.Analysis `json:"analyses"`
			Count    int               `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Analyses[0].ID != analysis.ID {
			t.Errorf("list = %+v", resp)
		}
	})
}

func TestAnalyzeValidation(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	tests := []struct {
		name string
		body string
	}{
		{"NotJSON", `{not json`},
		{"EmptyBatch", `{"transactions":[]}`},
		{"MissingSender", `{"transactions":[{"transaction_id":"t1","sender_id":"","receiver_id":"B","amount":10,"timestamp":"2025-03-01 10:00:00"}]}`},
		{"ZeroAmount", `{"transactions":[{"transaction_id":"t1","sender_id":"A","receiver_id":"B","amount":0,"timestamp":"2025-03-01 10:00:00"}]}`},
		{"BadTimestamp", `{"transactions":[{"transaction_id":"t1","sender_id":"A","receiver_id":"B","amount":10,"timestamp":"yesterday"}]}`},
		{"DuplicateID", `{"transactions":[
			{"transaction_id":"t1","sender_id":"A","receiver_id":"B","amount":10,"timestamp":"2025-03-01 10:00:00"},
			{"transaction_id":"t1","sender_id":"B","receiver_id":"C","amount":10,"timestamp":"2025-03-01 11:00:00"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.request(t, http.MethodPost, "/analyze", tenantID, []byte(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAnalyzeBatchTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.server.Handler().maxBatchSize = 2

	body, _ := json.Marshal(triangleRequest())
	w := env.request(t, http.MethodPost, "/analyze", "tenant-001", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestAnalyzeIncludeGraph(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	body, _ := json.Marshal(triangleRequest())

	w := env.request(t, http.MethodPost, "/analyze?include_graph=1", tenantID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var analysis domain.Analysis
	json.Unmarshal(w.Body.Bytes(), &analysis)
	if analysis.Graph == nil {
		t.Fatal("expected graph in response")
	}
	if analysis.Graph.NodeCount != 3 || analysis.Graph.EdgeCount != 3 {
		t.Errorf("graph = %d nodes, %d edges", analysis.Graph.NodeCount, analysis.Graph.EdgeCount)
	}

	t.Run("OmittedByDefault", func(t *testing.T) {
		other := AnalyzeRequest{
			Transactions: []domain.TransactionRequest{
				{TransactionID: "x1", SenderID: "X", ReceiverID: "Y", Amount: 100, Timestamp: "2025-03-02 10:00:00"},
			},
		}
		body, _ := json.Marshal(other)

		w := env.request(t, http.MethodPost, "/analyze", tenantID, body)
		var analysis domain.Analysis
		json.Unmarshal(w.Body.Bytes(), &analysis)
		if analysis.Graph != nil {
			t.Error("graph should be omitted without include_graph")
		}
	})

	t.Run("CachedResponseHasNoGraph", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/analyze?include_graph=1", tenantID, body)
		var analysis domain.Analysis
		json.Unmarshal(w.Body.Bytes(), &analysis)
		if !analysis.Metadata.Cached {
			t.Fatal("expected cached report on repeat submission")
		}
		if analysis.Graph != nil {
			t.Error("cached responses carry no graph")
		}
	})
}

func TestAnalyzeRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.server.Handler().limiter = velocity.NewLimiter(cache.NewLRUCache(100), 2)

	body, _ := json.Marshal(triangleRequest())
	for i := 0; i < 2; i++ {
		w := env.request(t, http.MethodPost, "/analyze", "tenant-001", body)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := env.request(t, http.MethodPost, "/analyze", "tenant-001", body)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	t.Run("OtherTenantUnaffected", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/analyze", "tenant-002", body)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 for a fresh tenant", w.Code)
		}
	})
}

func TestAnalyzeCSV(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	csvBody := strings.Join([]string{
		"transaction_id,sender_id,receiver_id,amount,timestamp",
		"t1,A,B,500,2025-03-01 10:00:00",
		"t2,B,C,450,2025-03-01 11:00:00",
		"t3,C,A,400,2025-03-01 12:00:00",
	}, "\n")

	w := env.request(t, http.MethodPost, "/analyze/csv", tenantID, []byte(csvBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var analysis domain.Analysis
	json.Unmarshal(w.Body.Bytes(), &analysis)
	if analysis.Report == nil || analysis.Report.Summary.SuspiciousAccountsFlagged != 3 {
		t.Errorf("report = %+v", analysis.Report)
	}

	t.Run("RejectsBadRows", func(t *testing.T) {
		bad := strings.Join([]string{
			"transaction_id,sender_id,receiver_id,amount,timestamp",
			"t1,A,B,-5,2025-03-01 10:00:00",
		}, "\n")

		w := env.request(t, http.MethodPost, "/analyze/csv", tenantID, []byte(bad))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}

		var resp struct {
			RowErrors []string `json:"rowErrors"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if len(resp.RowErrors) != 1 {
			t.Errorf("rowErrors = %v", resp.RowErrors)
		}
	})
}

func TestAnalyzeAsync(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-async"

	policies, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	policies.LoadPolicies(rules.BuiltinPolicies())

	pipeline := service.NewPipeline(
		engine.New(domain.DefaultThresholds()),
		policies,
		triage.NewProcessor(),
		env.repo,
		nil,
		env.events,
	)

	w := worker.NewWorker(env.events, pipeline)
	if err := w.Start(worker.Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(triangleRequest())
	resp := env.request(t, http.MethodPost, "/analyze/async", tenantID, body)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	var accepted struct {
		AnalysisID string `json:"analysisId"`
		Status     string `json:"status"`
	}
	json.Unmarshal(resp.Body.Bytes(), &accepted)
	if accepted.AnalysisID == "" || accepted.Status != domain.AnalysisStatusPending {
		t.Fatalf("accepted = %+v", accepted)
	}

	// Poll until the worker finishes the batch.
	deadline := time.After(3 * time.Second)
	for {
		analysis, err := env.repo.GetAnalysis(context.Background(), tenantID, accepted.AnalysisID)
		if err == nil && analysis.Status == domain.AnalysisStatusDone {
			if analysis.Report == nil || analysis.Report.Summary.SuspiciousAccountsFlagged != 3 {
				t.Errorf("report = %+v", analysis.Report)
			}
			return
		}

		select {
		case <-deadline:
			t.Fatal("timeout waiting for async analysis to complete")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	t.Run("ListBuiltins", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/policies", tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Count != len(rules.BuiltinPolicies()) {
			t.Errorf("count = %d", resp.Count)
		}
	})

	t.Run("GetOne", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/policies/policy-score-band", tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}

		var policy domain.PolicyConfig
		json.Unmarshal(w.Body.Bytes(), &policy)
		if policy.Expression != "suspicion_score" {
			t.Errorf("policy = %+v", policy)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		w := env.request(t, http.MethodGet, "/policies/policy-404", tenantID, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		create := CreatePolicyRequest{
			ID:         "policy-ring-type",
			Name:       "Cycle ring escalation",
			Expression: `ring_type == "cycle" && ring_size >= 3`,
			Bands: []domain.PolicyBand{
				{Outcome: domain.PolicyOutcomeReview, Reason: "cycle ring member"},
			},
			Enabled: true,
		}
		body, _ := json.Marshal(create)

		w := env.request(t, http.MethodPost, "/policies", tenantID, body)
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
		}

		w = env.request(t, http.MethodPost, "/policies/reload", tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("reload status = %d, body = %s", w.Code, w.Body.String())
		}

		// After reload the engine holds only database policies.
		var resp struct {
			Count int `json:"count"`
		}
		w = env.request(t, http.MethodGet, "/policies", tenantID, nil)
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count after reload = %d, want 1", resp.Count)
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		create := CreatePolicyRequest{
			ID:         "policy-bad",
			Name:       "Broken",
			Expression: "suspicion_score ++ 1",
			Enabled:    true,
		}
		body, _ := json.Marshal(create)

		w := env.request(t, http.MethodPost, "/policies", tenantID, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		w := env.request(t, http.MethodDelete, "/policies/policy-ring-type", tenantID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
		}

		w = env.request(t, http.MethodDelete, "/policies/policy-404", tenantID, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestTracingHeadersPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")

	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request id header = %q", got)
	}
	if w.Header().Get(TraceIDHeader) == "" {
		t.Error("expected trace id header")
	}
}

func TestListAnalysesBadLimit(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/analyses?limit=abc", "tenant-001", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
