package detect

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// FindShellChains flags every account on a directed path of at least
// th.ShellMinHops hops whose intermediate nodes are shell-like, meaning
// their total transaction count lies in
// [th.ShellMinIntermediateTx, th.ShellMaxIntermediateTx]. The seed and
// the final node of a path are flagged regardless of their own activity;
// legitimate high-activity accounts can head or terminate a chain.
// Traversal depth is capped at th.ShellMaxDepth hops.
func FindShellChains(g *graph.Graph, th domain.Thresholds) []string {
	flagged := make(map[string]struct{})

	isShell := func(id string) bool {
		node := g.Node(id)
		return node.TotalTransactions >= th.ShellMinIntermediateTx &&
			node.TotalTransactions <= th.ShellMaxIntermediateTx
	}

	path := make([]string, 0, th.ShellMaxDepth+1)
	onPath := make(map[string]struct{}, th.ShellMaxDepth+1)

	var dfs func(current string)
	dfs = func(current string) {
		for _, next := range sortedSuccessors(g, current) {
			if _, visited := onPath[next]; visited {
				continue
			}

			path = append(path, next)
			onPath[next] = struct{}{}

			// len(path)-1 hops on the path so far.
			if len(path)-1 >= th.ShellMinHops {
				for _, id := range path {
					flagged[id] = struct{}{}
				}
			}

			// Only shell-like nodes forward the chain.
			if isShell(next) && len(path)-1 < th.ShellMaxDepth {
				dfs(next)
			}

			delete(onPath, next)
			path = path[:len(path)-1]
		}
	}

	for _, seed := range g.NodeIDs() {
		path = append(path[:0], seed)
		onPath = map[string]struct{}{seed: {}}
		dfs(seed)
	}

	return inInsertionOrder(g, flagged)
}
