// Package rules provides the CEL-based alert-policy engine. Policies
// run over the accounts a finished analysis flagged; they classify, and
// never alter, detection results.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine compiles and evaluates alert policies.
type Engine struct {
	mu               sync.RWMutex
	env              *cel.Env
	compiledPolicies map[string]*CompiledPolicy
	maxWorkers       int
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// NewEngine creates a policy engine with the account-level variable set.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("suspicion_score", cel.DoubleType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("ring_id", cel.StringType),
		cel.Variable("ring_size", cel.IntType),
		cel.Variable("ring_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:              env,
		compiledPolicies: make(map[string]*CompiledPolicy),
		maxWorkers:       maxWorkers,
	}, nil
}

// ValidatePolicy compiles a policy without loading it.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(cfg)
	return err
}

// LoadPolicy compiles and loads a policy into the engine.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(cfg)
	if err != nil {
		return err
	}
	e.compiledPolicies[cfg.ID] = compiled
	return nil
}

// LoadPolicies compiles and loads every enabled policy.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput carries one analysis result into policy evaluation.
type EvaluateInput struct {
	TenantID string
	Report   *domain.Report
}

// EvaluateAll evaluates every loaded policy against every suspicious
// account in the report. Evaluation is parallel across accounts with a
// bounded worker pool; results come back grouped by account in report
// order, policies in ID order within each account.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.PolicyResult, error) {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiledPolicies))
	for _, p := range e.compiledPolicies {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 || input.Report == nil || len(input.Report.SuspiciousAccounts) == 0 {
		return nil, nil
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Config.ID < policies[j].Config.ID
	})

	ringSizes := make(map[string]int, len(input.Report.FraudRings))
	ringTypes := make(map[string]string, len(input.Report.FraudRings))
	for _, r := range input.Report.FraudRings {
		ringSizes[r.RingID] = len(r.MemberAccounts)
		ringTypes[r.RingID] = string(r.PatternType)
	}

	accounts := input.Report.SuspiciousAccounts
	results := make([]domain.PolicyResult, len(accounts)*len(policies))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for ai := range accounts {
		wg.Add(1)
		go func(ai int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			acct := &accounts[ai]
			activation := map[string]any{
				"account_id":      acct.AccountID,
				"suspicion_score": acct.SuspicionScore,
				"patterns":        tagStrings(acct.DetectedPatterns),
				"ring_id":         acct.RingID,
				"ring_size":       int64(ringSizes[acct.RingID]),
				"ring_type":       ringTypes[acct.RingID],
			}
			for pi, policy := range policies {
				results[ai*len(policies)+pi] = e.evaluatePolicy(policy, input.TenantID, acct.AccountID, activation)
			}
		}(ai)
	}
	wg.Wait()

	return results, nil
}

func (e *Engine) evaluatePolicy(policy *CompiledPolicy, tenantID, accountID string, activation map[string]any) domain.PolicyResult {
	start := time.Now()

	result := domain.PolicyResult{
		PolicyID:  policy.Config.ID,
		TenantID:  tenantID,
		AccountID: accountID,
	}

	out, _, err := policy.Program.Eval(activation)
	if err != nil {
		result.Outcome = domain.PolicyOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	result.Outcome, result.Reason = matchBand(result.Score, policy.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score. Bands are evaluated in
// order, lower inclusive, upper exclusive; a nil upper means unbounded.
func matchBand(score float64, bands []domain.PolicyBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if score < lower {
			continue
		}
		if band.UpperLimit == nil || score < *band.UpperLimit {
			return band.Outcome, band.Reason
		}
	}
	return domain.PolicyOutcomeNote, "no matching band"
}

// PoliciesCount returns the number of loaded policies.
func (e *Engine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledPolicies)
}

// ReloadPolicies replaces the loaded set atomically. Used for
// hot-reloading policies from the repository.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*CompiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compilePolicy(cfg)
		if err != nil {
			return err
		}
		fresh[cfg.ID] = compiled
	}
	e.compiledPolicies = fresh
	return nil
}

// GetLoadedPolicies returns the currently loaded configurations.
func (e *Engine) GetLoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.PolicyConfig, 0, len(e.compiledPolicies))
	for _, compiled := range e.compiledPolicies {
		out = append(out, compiled.Config)
	}
	return out
}

// Close clears the loaded policy set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledPolicies = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("policy %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{Config: cfg, Program: program}, nil
}

func tagStrings(tags []domain.PatternTag) []string {
	out := make([]string, len(tags))
	for i, tag := range tags {
		out[i] = string(tag)
	}
	return out
}
