// Package score applies detector output to the node table: additive
// suspicion scoring and the payroll false-positive filter.
package score

import (
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// DetectorOutput bundles the results of the four detectors.
type DetectorOutput struct {
	Cycles       *detect.CycleResult
	Smurfing     *detect.SmurfResult
	ShellChains  []string
	HighVelocity []string
}

// Apply writes pattern tags and suspicion scores onto the node table.
// Contributions are additive, applied once each, in the canonical tag
// order; the final score is capped at th.MaxScore. Accounts are visited
// in insertion order so repeated runs produce identical tag lists.
func Apply(g *graph.Graph, out *DetectorOutput, th domain.Thresholds) {
	fanIn := toSet(out.Smurfing.FanIn)
	fanOut := toSet(out.Smurfing.FanOut)
	shell := toSet(out.ShellChains)
	velocity := toSet(out.HighVelocity)

	for _, id := range g.NodeIDs() {
		node := g.Node(id)
		score := 0.0
		var tags []domain.PatternTag

		if length, ok := out.Cycles.ShortestLength[id]; ok {
			tags = append(tags, cycleTag(length))
			score += th.CycleWeight
		}
		if _, ok := fanIn[id]; ok {
			tags = append(tags, domain.PatternFanIn)
			score += th.FanInWeight
		}
		if _, ok := fanOut[id]; ok {
			tags = append(tags, domain.PatternFanOut)
			score += th.FanOutWeight
		}
		if _, ok := shell[id]; ok {
			tags = append(tags, domain.PatternShellChain)
			score += th.ShellChainWeight
		}
		if _, ok := velocity[id]; ok {
			tags = append(tags, domain.PatternHighVelocity)
			score += th.HighVelocityWeight
		}

		if score > th.MaxScore {
			score = th.MaxScore
		}

		node.DetectedPatterns = tags
		node.SuspicionScore = score
		node.IsSuspicious = score > 0
	}
}

func cycleTag(length int) domain.PatternTag {
	switch length {
	case 3:
		return domain.PatternCycle3
	case 4:
		return domain.PatternCycle4
	default:
		return domain.PatternCycle5
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
