package detect

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// SmurfResult holds the accounts flagged for burst fan-in or fan-out,
// in node insertion order.
type SmurfResult struct {
	FanIn  []string
	FanOut []string
}

// FindSmurfing flags accounts that receive from (fan-in) or send to
// (fan-out) at least th.SmurfCounterparties distinct counterparties
// within any th.SmurfWindow window. The window is inclusive on both
// ends: timestamp[right] − timestamp[left] ≤ window.
func FindSmurfing(g *graph.Graph, th domain.Thresholds) *SmurfResult {
	fanIn := make(map[string]struct{})
	fanOut := make(map[string]struct{})

	for _, id := range g.NodeIDs() {
		if hasBurstWindow(g.InEdges(id), th, func(e graph.Edge) string { return e.Source }) {
			fanIn[id] = struct{}{}
		}
		if hasBurstWindow(g.OutEdges(id), th, func(e graph.Edge) string { return e.Target }) {
			fanOut[id] = struct{}{}
		}
	}

	return &SmurfResult{
		FanIn:  inInsertionOrder(g, fanIn),
		FanOut: inInsertionOrder(g, fanOut),
	}
}

// hasBurstWindow runs a two-pointer sweep over time-sorted edges and
// reports whether any window of width ≤ th.SmurfWindow contains at least
// th.SmurfCounterparties edges with that many distinct counterparties.
func hasBurstWindow(edges []graph.Edge, th domain.Thresholds, counterparty func(graph.Edge) string) bool {
	if len(edges) < th.SmurfCounterparties {
		return false
	}

	counts := make(map[string]int)
	left := 0
	for right := 0; right < len(edges); right++ {
		counts[counterparty(edges[right])]++

		for edges[right].Timestamp.Sub(edges[left].Timestamp) > th.SmurfWindow {
			cp := counterparty(edges[left])
			counts[cp]--
			if counts[cp] == 0 {
				delete(counts, cp)
			}
			left++
		}

		if right-left+1 >= th.SmurfCounterparties && len(counts) >= th.SmurfCounterparties {
			return true
		}
	}
	return false
}
