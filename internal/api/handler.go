package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// GlobalTenantID is used for policies that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	events       domain.EventBus
	pipeline     *service.Pipeline
	policies     *rules.Engine
	version      string
	maxBatchSize int
	limiter      *velocity.Limiter
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, events domain.EventBus, pipeline *service.Pipeline, policies *rules.Engine, version string, maxBatchSize int, limiter *velocity.Limiter) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		events:       events,
		pipeline:     pipeline,
		policies:     policies,
		version:      version,
		maxBatchSize: maxBatchSize,
		limiter:      limiter,
	}
}

// allowSubmission applies the per-tenant rate limit. On rejection it
// writes a 429 response and returns false.
func (h *Handler) allowSubmission(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	ok, err := h.limiter.Allow(r.Context(), tenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return false
	}
	if !ok {
		slog.Warn("submission rate limit exceeded", "tenant_id", tenantID)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "submission rate limit exceeded",
		})
		return false
	}
	return true
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// Analyze handles POST /analyze: synchronous batch analysis.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if !h.allowSubmission(w, r, tenantID) {
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	txs, ok := h.convertBatch(w, req.Transactions)
	if !ok {
		return
	}

	analysis, err := h.pipeline.Run(ctx, service.RunInput{
		AnalysisID:   uuid.New().String(),
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: txs,
		IngestMs:     time.Since(start).Milliseconds(),
		IncludeGraph: includeGraph(r),
	})
	if err != nil {
		slog.Error("failed to persist analysis", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to persist analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// includeGraph reports whether the caller asked for the graph view.
func includeGraph(r *http.Request) bool {
	v := r.URL.Query().Get("include_graph")
	return v == "1" || v == "true"
}

// AnalyzeCSV handles POST /analyze/csv: the request body is a CSV batch.
func (h *Handler) AnalyzeCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if !h.allowSubmission(w, r, tenantID) {
		return
	}

	txs, err := ingest.Read(r.Body)
	if err != nil {
		var batchErr *ingest.BatchError
		if errors.As(err, &batchErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "batch rejected",
				"rowErrors":  batchErr.Messages(),
				"errorCount": len(batchErr.Rows),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.maxBatchSize > 0 && len(txs) > h.maxBatchSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch exceeds maximum size",
		})
		return
	}

	analysis, err := h.pipeline.Run(ctx, service.RunInput{
		AnalysisID:   uuid.New().String(),
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: txs,
		IngestMs:     time.Since(start).Milliseconds(),
		IncludeGraph: includeGraph(r),
	})
	if err != nil {
		slog.Error("failed to persist analysis", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to persist analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// AnalyzeAsync handles POST /analyze/async: the batch is queued on the
// event bus and picked up by a worker. Responds 202 with the analysis ID.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	if !h.allowSubmission(w, r, tenantID) {
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	txs, ok := h.convertBatch(w, req.Transactions)
	if !ok {
		return
	}

	analysisID := uuid.New().String()

	// Record the submission before queueing so status is visible immediately.
	if h.repo != nil {
		pending := &domain.Analysis{
			ID:               analysisID,
			TenantID:         tenantID,
			Status:           domain.AnalysisStatusPending,
			TriageStatus:     domain.TriageStatusClear,
			TransactionCount: len(txs),
			CreatedAt:        time.Now().UTC(),
			Metadata:         domain.AnalysisMetadata{TraceID: traceID},
		}
		if err := h.repo.SaveAnalysis(ctx, tenantID, pending); err != nil {
			slog.Error("failed to record pending analysis", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to record analysis",
			})
			return
		}
	}

	event := bus.AnalysisRequestedEvent{
		AnalysisID:   analysisID,
		TenantID:     tenantID,
		Transactions: txs,
	}
	if err := bus.PublishEvent(ctx, h.events, tenantID, domain.TopicAnalysisRequested, event); err != nil {
		slog.Error("failed to queue analysis", "analysis_id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"analysisId":       analysisID,
		"status":           domain.AnalysisStatusPending,
		"transactionCount": len(txs),
	})
}

// convertBatch validates and converts request transactions. On failure it
// writes the error response and returns ok=false.
func (h *Handler) convertBatch(w http.ResponseWriter, reqs []domain.TransactionRequest) ([]domain.Transaction, bool) {
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions are required",
		})
		return nil, false
	}
	if h.maxBatchSize > 0 && len(reqs) > h.maxBatchSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch exceeds maximum size",
		})
		return nil, false
	}

	seen := make(map[string]bool, len(reqs))
	txs := make([]domain.Transaction, 0, len(reqs))
	for i, req := range reqs {
		if req.TransactionID == "" || req.SenderID == "" || req.ReceiverID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "transaction_id, sender_id, and receiver_id are required",
				"index": i,
			})
			return nil, false
		}
		if req.Amount <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "amount must be positive",
				"index": i,
			})
			return nil, false
		}
		if seen[req.TransactionID] {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "duplicate transaction_id: " + req.TransactionID,
				"index": i,
			})
			return nil, false
		}
		seen[req.TransactionID] = true

		tx, err := req.ToTransaction()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid timestamp: " + req.Timestamp,
				"index": i,
			})
			return nil, false
		}
		txs = append(txs, *tx)
	}

	return txs, true
}

// GetAnalysis retrieves an analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "analysis not found",
			})
			return
		}
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// ListAnalyses lists recent analyses for the tenant, newest first.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	analyses, err := h.repo.ListAnalyses(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list analyses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.events != nil {
		if err := h.events.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListPolicies returns all loaded policies from the engine.
// Policies are loaded from the database at startup (the builtin set when
// the database holds none) and can be reloaded via POST /policies/reload.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.GetLoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]any{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a policy by ID from the loaded engine policies.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	for _, p := range h.policies.GetLoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Expression  string              `json:"expression"`
	Bands       []domain.PolicyBand `json:"bands"`
	Enabled     bool                `json:"enabled"`
}

// CreatePolicy creates a new policy and saves it to the database.
// Policies are saved globally (tenant_id = "*") so they apply to all
// tenants. After saving, call POST /policies/reload to apply.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	policy := &domain.PolicyConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.policies.ValidatePolicy(policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, GlobalTenantID, policy); err != nil {
			slog.Error("failed to save policy", "id", policy.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", policy.ID, "name", policy.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"policy":  policy,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// DeletePolicy disables a policy and reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicy(ctx, GlobalTenantID, policyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to delete policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete policy",
		})
		return
	}

	// Reload so the engine stops evaluating the deleted policy.
	remaining, err := h.repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to reload policies after delete", "error", err)
	} else if err := h.policies.ReloadPolicies(remaining); err != nil {
		slog.Error("failed to reload policies after delete", "error", err)
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Policy deleted and engine reloaded.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbPolicies, err := h.repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
