// Package triage folds per-account policy results into a single batch
// disposition: ALRT when the batch needs an analyst, CLR otherwise.
package triage

import (
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Processor aggregates policy results and produces the triage decision.
type Processor struct {
	// ReviewAlertCount is the number of review outcomes that raises an
	// alert even when nothing escalated outright.
	ReviewAlertCount int
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		ReviewAlertCount: 5,
	}
}

// Decision is the aggregated outcome of one analysis batch.
type Decision struct {
	Status      string
	Escalations int
	Reviews     int
	Notes       int
	Errors      int
	Reasons     []string
	DecisionMs  int64
}

// Process aggregates policy results into a decision. Any escalation
// alerts; so does a pile-up of reviews past ReviewAlertCount.
func (p *Processor) Process(results []domain.PolicyResult) *Decision {
	start := time.Now()

	d := &Decision{Status: domain.TriageStatusClear}
	for _, r := range results {
		switch r.Outcome {
		case domain.PolicyOutcomeEscalate:
			d.Escalations++
			if r.Reason != "" {
				d.Reasons = append(d.Reasons, r.AccountID+": "+r.Reason)
			}
		case domain.PolicyOutcomeReview:
			d.Reviews++
		case domain.PolicyOutcomeNote:
			d.Notes++
		case domain.PolicyOutcomeError:
			d.Errors++
		}
	}

	if d.Escalations > 0 || (p.ReviewAlertCount > 0 && d.Reviews >= p.ReviewAlertCount) {
		d.Status = domain.TriageStatusAlert
	}

	d.DecisionMs = time.Since(start).Milliseconds()
	return d
}

// ShouldAlert reports whether the decision requires analyst attention.
func ShouldAlert(d *Decision) bool {
	return d.Status == domain.TriageStatusAlert
}
