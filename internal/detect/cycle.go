package detect

import (
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Cycle is one detected simple directed cycle. Members are listed in
// traversal order starting at the seed node.
type Cycle struct {
	Members []string
	Length  int
}

// CycleResult carries every deduplicated cycle plus the shortest cycle
// length observed per member account.
type CycleResult struct {
	// Cycles in emission order: seeds in node insertion order, neighbors
	// in lexicographic order. Ring assignment depends on this order.
	Cycles []Cycle

	// ShortestLength maps each cycle member to the length of the
	// shortest cycle it appears in. Drives the cycle_length_{k} tag.
	ShortestLength map[string]int
}

// FindCycles enumerates all simple directed cycles with length between
// th.CycleMinLength and th.CycleMaxLength, deduplicated by sorted
// member set. A→B→C→A and A→C→B→A collapse to one entry; the first
// emitted representative is retained.
func FindCycles(g *graph.Graph, th domain.Thresholds) *CycleResult {
	result := &CycleResult{
		ShortestLength: make(map[string]int),
	}
	seen := make(map[string]struct{})

	path := make([]string, 0, th.CycleMaxLength)
	onPath := make(map[string]struct{}, th.CycleMaxLength)

	var dfs func(seed, current string)
	dfs = func(seed, current string) {
		for _, next := range sortedSuccessors(g, current) {
			if next == seed {
				if len(path) >= th.CycleMinLength {
					emitCycle(result, seen, path)
				}
				continue
			}
			if _, visited := onPath[next]; visited {
				continue
			}
			if len(path) == th.CycleMaxLength {
				continue
			}
			path = append(path, next)
			onPath[next] = struct{}{}
			dfs(seed, next)
			delete(onPath, next)
			path = path[:len(path)-1]
		}
	}

	for _, seed := range g.NodeIDs() {
		path = append(path[:0], seed)
		onPath = map[string]struct{}{seed: {}}
		dfs(seed, seed)
	}

	return result
}

func emitCycle(result *CycleResult, seen map[string]struct{}, path []string) {
	key := canonicalKey(path)
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	members := make([]string, len(path))
	copy(members, path)
	result.Cycles = append(result.Cycles, Cycle{Members: members, Length: len(members)})

	for _, id := range members {
		if prev, ok := result.ShortestLength[id]; !ok || len(members) < prev {
			result.ShortestLength[id] = len(members)
		}
	}
}

// canonicalKey collapses rotations and directions of the same member set.
func canonicalKey(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
