package detect

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// FindHighVelocity flags senders that issue at least th.VelocityCount
// outbound transactions within any th.VelocityWindow window. Parallel
// edges all count; only the sender side is examined.
func FindHighVelocity(g *graph.Graph, th domain.Thresholds) []string {
	flagged := make(map[string]struct{})

	for _, id := range g.NodeIDs() {
		edges := g.OutEdges(id)
		if len(edges) < th.VelocityCount {
			continue
		}

		left := 0
		for right := 0; right < len(edges); right++ {
			for edges[right].Timestamp.Sub(edges[left].Timestamp) > th.VelocityWindow {
				left++
			}
			if right-left+1 >= th.VelocityCount {
				flagged[id] = struct{}{}
				break
			}
		}
	}

	return inInsertionOrder(g, flagged)
}
