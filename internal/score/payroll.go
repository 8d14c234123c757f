package score

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// FilterPayroll suppresses the fan-out flag on regular-payroll-like
// senders. A sender qualifies when it has at least th.PayrollMinCount
// outbound amounts whose coefficient of variation (population standard
// deviation over mean) is strictly below th.PayrollCVCap. Cycle
// participation overrides the exemption.
func FilterPayroll(g *graph.Graph, th domain.Thresholds) {
	for _, id := range g.NodeIDs() {
		node := g.Node(id)
		if !node.HasPattern(domain.PatternFanOut) || node.HasCyclePattern() {
			continue
		}
		if !isPayrollSender(g.OutEdges(id), th) {
			continue
		}

		node.DetectedPatterns = removeTag(node.DetectedPatterns, domain.PatternFanOut)
		node.SuspicionScore -= th.FanOutWeight
		if node.SuspicionScore < 0 {
			node.SuspicionScore = 0
		}
		if len(node.DetectedPatterns) == 0 {
			node.IsSuspicious = false
			node.SuspicionScore = 0
		}
	}
}

// isPayrollSender tests the count and dispersion of outbound amounts.
func isPayrollSender(edges []graph.Edge, th domain.Thresholds) bool {
	if len(edges) < th.PayrollMinCount {
		return false
	}

	mean := 0.0
	for _, e := range edges {
		mean += e.Amount
	}
	mean /= float64(len(edges))
	if mean == 0 {
		return false
	}

	variance := 0.0
	for _, e := range edges {
		d := e.Amount - mean
		variance += d * d
	}
	variance /= float64(len(edges))

	cv := math.Sqrt(variance) / mean
	return cv < th.PayrollCVCap
}

func removeTag(tags []domain.PatternTag, drop domain.PatternTag) []domain.PatternTag {
	out := tags[:0]
	for _, tag := range tags {
		if tag != drop {
			out = append(out, tag)
		}
	}
	return out
}
