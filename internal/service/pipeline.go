// Package service runs the end-to-end analysis pipeline.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/triage"
)

// DefaultReportTTL bounds how long a cached report stays valid.
const DefaultReportTTL = time.Hour

// Pipeline wires the analysis engine, policy engine, and triage into one
// batch pipeline: detect, evaluate policies, decide, persist, notify.
// Repository, cache, and event bus are optional; a nil component skips
// that stage.
type Pipeline struct {
	analyzer  *engine.Analyzer
	policies  *rules.Engine
	triage    *triage.Processor
	repo      domain.Repository
	cache     domain.Cache
	events    domain.EventBus
	reportTTL time.Duration
}

// NewPipeline creates an analysis pipeline.
func NewPipeline(analyzer *engine.Analyzer, policies *rules.Engine, processor *triage.Processor, repo domain.Repository, c domain.Cache, events domain.EventBus) *Pipeline {
	return &Pipeline{
		analyzer:  analyzer,
		policies:  policies,
		triage:    processor,
		repo:      repo,
		cache:     c,
		events:    events,
		reportTTL: DefaultReportTTL,
	}
}

// RunInput describes one batch submission.
type RunInput struct {
	AnalysisID   string
	TenantID     string
	TraceID      string
	Transactions []domain.Transaction

	// IngestMs is time already spent parsing the batch at the boundary.
	IngestMs int64

	// IncludeGraph attaches the transaction graph to the response. A
	// cached report carries no graph; the engine did not run.
	IncludeGraph bool
}

// Run executes the full pipeline for one batch. Engine failures are
// recorded on the returned analysis with status FAIL rather than
// returned as errors; the error return covers persistence problems.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*domain.Analysis, error) {
	start := time.Now()

	analysis := &domain.Analysis{
		ID:               in.AnalysisID,
		TenantID:         in.TenantID,
		Status:           domain.AnalysisStatusPending,
		TriageStatus:     domain.TriageStatusClear,
		TransactionCount: len(in.Transactions),
		CreatedAt:        start.UTC(),
		Metadata: domain.AnalysisMetadata{
			TraceID:       in.TraceID,
			IngestMs:      in.IngestMs,
			EngineVersion: engine.Version,
		},
	}

	report, err := p.detect(ctx, analysis, in)
	if err != nil {
		analysis.Status = domain.AnalysisStatusFailed
		analysis.Error = err.Error()
		analysis.Metadata.TotalMs = time.Since(start).Milliseconds()

		if saveErr := p.save(ctx, analysis); saveErr != nil {
			return analysis, saveErr
		}
		p.publishFailed(ctx, analysis)

		slog.Error("analysis failed",
			"analysis_id", analysis.ID,
			"tenant_id", analysis.TenantID,
			"error", err,
		)
		return analysis, nil
	}
	analysis.Report = report

	policyStart := time.Now()
	if p.policies != nil && p.policies.PoliciesCount() > 0 {
		results, evalErr := p.policies.EvaluateAll(ctx, &rules.EvaluateInput{
			TenantID: in.TenantID,
			Report:   report,
		})
		if evalErr != nil {
			slog.Error("policy evaluation failed",
				"analysis_id", analysis.ID,
				"error", evalErr,
			)
		} else {
			analysis.PolicyResults = results
			analysis.Metadata.PoliciesEvaluated = p.policies.PoliciesCount()
		}
	}
	analysis.Metadata.PolicyMs = time.Since(policyStart).Milliseconds()

	decision := p.triage.Process(analysis.PolicyResults)
	analysis.Status = domain.AnalysisStatusDone
	analysis.TriageStatus = decision.Status
	analysis.Metadata.TotalMs = time.Since(start).Milliseconds()

	if err := p.save(ctx, analysis); err != nil {
		return analysis, err
	}
	p.publishCompleted(ctx, analysis, decision)

	slog.Info("analysis complete",
		"analysis_id", analysis.ID,
		"tenant_id", analysis.TenantID,
		"transactions", analysis.TransactionCount,
		"flagged", report.Summary.SuspiciousAccountsFlagged,
		"rings", report.Summary.FraudRingsDetected,
		"triage", analysis.TriageStatus,
		"cached", analysis.Metadata.Cached,
		"total_ms", analysis.Metadata.TotalMs,
	)

	return analysis, nil
}

// detect runs the engine, consulting the report cache first.
func (p *Pipeline) detect(ctx context.Context, analysis *domain.Analysis, in RunInput) (*domain.Report, error) {
	var digest string
	if p.cache != nil {
		digest = cache.BatchDigest(in.Transactions)
		cached, err := p.cache.GetReport(ctx, in.TenantID, digest)
		if err != nil {
			slog.Warn("report cache lookup failed",
				"analysis_id", analysis.ID,
				"error", err,
			)
		} else if cached != nil {
			analysis.Metadata.Cached = true
			return cached, nil
		}
	}

	engineStart := time.Now()
	report, g, err := p.analyzer.Analyze(ctx, in.Transactions)
	if err != nil {
		return nil, err
	}
	analysis.Metadata.EngineMs = time.Since(engineStart).Milliseconds()

	if in.IncludeGraph {
		analysis.Graph = g.Summary()
	}

	if p.cache != nil {
		if err := p.cache.SetReport(ctx, in.TenantID, digest, report, p.reportTTL); err != nil {
			slog.Warn("report cache store failed",
				"analysis_id", analysis.ID,
				"error", err,
			)
		}
	}

	return report, nil
}

func (p *Pipeline) save(ctx context.Context, analysis *domain.Analysis) error {
	if p.repo == nil {
		return nil
	}
	return p.repo.SaveAnalysis(ctx, analysis.TenantID, analysis)
}

func (p *Pipeline) publishCompleted(ctx context.Context, analysis *domain.Analysis, decision *triage.Decision) {
	if p.events == nil {
		return
	}

	completed := bus.AnalysisCompletedEvent{
		AnalysisID:   analysis.ID,
		TenantID:     analysis.TenantID,
		TriageStatus: analysis.TriageStatus,
		Summary:      analysis.Report.Summary,
	}
	if err := bus.PublishEvent(ctx, p.events, analysis.TenantID, domain.TopicAnalysisCompleted, completed); err != nil {
		slog.Error("failed to publish completion",
			"analysis_id", analysis.ID,
			"error", err,
		)
	}

	if !triage.ShouldAlert(decision) {
		return
	}
	alert := bus.AlertEvent{
		AnalysisID:  analysis.ID,
		TenantID:    analysis.TenantID,
		Escalations: decision.Escalations,
		Reviews:     decision.Reviews,
		Reasons:     decision.Reasons,
	}
	if err := bus.PublishEvent(ctx, p.events, analysis.TenantID, domain.TopicAlert, alert); err != nil {
		slog.Error("failed to publish alert",
			"analysis_id", analysis.ID,
			"error", err,
		)
	}
}

func (p *Pipeline) publishFailed(ctx context.Context, analysis *domain.Analysis) {
	if p.events == nil {
		return
	}
	failed := bus.AnalysisFailedEvent{
		AnalysisID: analysis.ID,
		TenantID:   analysis.TenantID,
		Error:      analysis.Error,
	}
	if err := bus.PublishEvent(ctx, p.events, analysis.TenantID, domain.TopicAnalysisFailed, failed); err != nil {
		slog.Error("failed to publish failure",
			"analysis_id", analysis.ID,
			"error", err,
		)
	}
}
