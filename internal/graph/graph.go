// Package graph builds the directed transaction multigraph the detectors
// operate on.
package graph

import (
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Edge is one directed transfer. Parallel edges are allowed; one
// transaction produces exactly one edge, never deduplicated.
type Edge struct {
	Source        string
	Target        string
	Amount        float64
	Timestamp     time.Time
	TransactionID string
}

// Graph holds the node table, the edge list, and the adjacency indices.
// Nodes are kept in insertion order of first appearance so iteration is
// deterministic for any input ordering.
type Graph struct {
	nodes     map[string]*domain.Account
	nodeOrder []string

	edges []Edge

	// Node-level adjacency, deduplicated. Used by cycle and shell detection.
	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}

	// Per-account edge indices sorted by ascending timestamp.
	// Used by the window detectors.
	bySender   map[string][]int
	byReceiver map[string][]int

	// Edge indices sorted by ascending timestamp across the whole batch.
	timeOrder []int
}

// Build folds a batch of validated transactions into a graph.
func Build(transactions []domain.Transaction) *Graph {
	g := &Graph{
		nodes:      make(map[string]*domain.Account),
		edges:      make([]Edge, 0, len(transactions)),
		forward:    make(map[string]map[string]struct{}),
		reverse:    make(map[string]map[string]struct{}),
		bySender:   make(map[string][]int),
		byReceiver: make(map[string][]int),
	}

	for _, tx := range transactions {
		g.addTransaction(tx)
	}

	g.sortIndices()
	return g
}

func (g *Graph) addTransaction(tx domain.Transaction) {
	sender := g.ensureNode(tx.SenderID)
	receiver := g.ensureNode(tx.ReceiverID)

	sender.TotalTransactions++
	sender.TotalSent += tx.Amount
	sender.UniqueReceivers[tx.ReceiverID] = struct{}{}

	// Self-loops contribute to both counters.
	receiver.TotalTransactions++
	receiver.TotalReceived += tx.Amount
	receiver.UniqueSenders[tx.SenderID] = struct{}{}

	idx := len(g.edges)
	g.edges = append(g.edges, Edge{
		Source:        tx.SenderID,
		Target:        tx.ReceiverID,
		Amount:        tx.Amount,
		Timestamp:     tx.Timestamp,
		TransactionID: tx.ID,
	})

	if g.forward[tx.SenderID] == nil {
		g.forward[tx.SenderID] = make(map[string]struct{})
	}
	g.forward[tx.SenderID][tx.ReceiverID] = struct{}{}

	if g.reverse[tx.ReceiverID] == nil {
		g.reverse[tx.ReceiverID] = make(map[string]struct{})
	}
	g.reverse[tx.ReceiverID][tx.SenderID] = struct{}{}

	g.bySender[tx.SenderID] = append(g.bySender[tx.SenderID], idx)
	g.byReceiver[tx.ReceiverID] = append(g.byReceiver[tx.ReceiverID], idx)
	g.timeOrder = append(g.timeOrder, idx)
}

func (g *Graph) ensureNode(id string) *domain.Account {
	if node, ok := g.nodes[id]; ok {
		return node
	}
	node := &domain.Account{
		ID:              id,
		UniqueSenders:   make(map[string]struct{}),
		UniqueReceivers: make(map[string]struct{}),
	}
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	return node
}

func (g *Graph) sortIndices() {
	byTime := func(indices []int) {
		sort.SliceStable(indices, func(a, b int) bool {
			return g.edges[indices[a]].Timestamp.Before(g.edges[indices[b]].Timestamp)
		})
	}
	for _, indices := range g.bySender {
		byTime(indices)
	}
	for _, indices := range g.byReceiver {
		byTime(indices)
	}
	byTime(g.timeOrder)
}

// Node returns the account record for id, or nil if absent.
func (g *Graph) Node(id string) *domain.Account {
	return g.nodes[id]
}

// NodeIDs returns account IDs in insertion order of first appearance.
func (g *Graph) NodeIDs() []string {
	return g.nodeOrder
}

// NodeCount returns the number of distinct accounts.
func (g *Graph) NodeCount() int {
	return len(g.nodeOrder)
}

// EdgeCount returns the number of edges (= transactions).
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Successors returns the deduplicated forward-adjacency set of id.
func (g *Graph) Successors(id string) map[string]struct{} {
	return g.forward[id]
}

// Predecessors returns the deduplicated reverse-adjacency set of id.
func (g *Graph) Predecessors(id string) map[string]struct{} {
	return g.reverse[id]
}

// OutEdges returns the outbound edges of id in ascending timestamp order.
func (g *Graph) OutEdges(id string) []Edge {
	return g.collect(g.bySender[id])
}

// InEdges returns the inbound edges of id in ascending timestamp order.
func (g *Graph) InEdges(id string) []Edge {
	return g.collect(g.byReceiver[id])
}

// EdgesByTime returns all edges in ascending timestamp order.
func (g *Graph) EdgesByTime() []Edge {
	return g.collect(g.timeOrder)
}

func (g *Graph) collect(indices []int) []Edge {
	out := make([]Edge, len(indices))
	for i, idx := range indices {
		out[i] = g.edges[idx]
	}
	return out
}

// Summary exports the graph for API responses.
func (g *Graph) Summary() *domain.GraphSummary {
	s := &domain.GraphSummary{
		Nodes:     make([]domain.Account, 0, len(g.nodeOrder)),
		Edges:     make([]domain.GraphEdge, 0, len(g.edges)),
		NodeCount: len(g.nodeOrder),
		EdgeCount: len(g.edges),
	}
	for _, id := range g.nodeOrder {
		s.Nodes = append(s.Nodes, *g.nodes[id])
	}
	for _, e := range g.EdgesByTime() {
		s.Edges = append(s.Edges, domain.GraphEdge{
			TransactionID: e.TransactionID,
			Source:        e.Source,
			Target:        e.Target,
			Amount:        e.Amount,
			Timestamp:     e.Timestamp,
		})
	}
	return s
}
