// Package detect implements the structural pattern detectors: directed
// cycles, fan-in/fan-out bursts, shell forwarding chains, and
// high-velocity senders. Detectors are pure over the graph; they return
// account ID sets and never mutate node records.
package detect

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/graph"
)

// sortedSuccessors returns the forward adjacency of id in lexicographic
// order. Map iteration order would leak into cycle representatives and
// shell paths otherwise.
func sortedSuccessors(g *graph.Graph, id string) []string {
	succ := g.Successors(id)
	if len(succ) == 0 {
		return nil
	}
	out := make([]string, 0, len(succ))
	for n := range succ {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// inInsertionOrder filters the graph's node order down to the flagged set.
func inInsertionOrder(g *graph.Graph, flagged map[string]struct{}) []string {
	if len(flagged) == 0 {
		return nil
	}
	out := make([]string, 0, len(flagged))
	for _, id := range g.NodeIDs() {
		if _, ok := flagged[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
