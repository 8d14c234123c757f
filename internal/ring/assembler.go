// Package ring partitions flagged accounts into named fraud rings.
package ring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Assembler assigns flagged accounts to disjoint rings. The counter is
// per-instance; create a fresh Assembler for every analysis so ring IDs
// restart at RING_001.
type Assembler struct {
	counter int
	rings   []*domain.FraudRing
	assigned map[string]*domain.FraudRing
}

// NewAssembler creates an assembler with a reset ring counter.
func NewAssembler() *Assembler {
	return &Assembler{
		assigned: make(map[string]*domain.FraudRing),
	}
}

// Assemble partitions flagged accounts into rings and writes ring IDs
// back onto the node table. Assignment order fixes ring numbering:
// cycle rings first (in cycle emission order, merged transitively over
// shared members), then one fan-in ring, one fan-out ring, and one
// shell ring for the accounts not claimed by an earlier ring.
func (a *Assembler) Assemble(g *graph.Graph, cycles []detect.Cycle) []domain.FraudRing {
	a.assembleCycleRings(g, cycles)
	a.assembleTagRing(g, domain.PatternFanIn, domain.RingTypeFanIn)
	a.assembleTagRing(g, domain.PatternFanOut, domain.RingTypeFanOut)
	a.assembleTagRing(g, domain.PatternShellChain, domain.RingTypeShellChain)

	out := make([]domain.FraudRing, len(a.rings))
	for i, r := range a.rings {
		r.RiskScore = meanScore(g, r.MemberAccounts)
		out[i] = *r
	}
	return out
}

func (a *Assembler) assembleCycleRings(g *graph.Graph, cycles []detect.Cycle) {
	for _, cycle := range cycles {
		// First member already holding a ring decides the target.
		var target *domain.FraudRing
		for _, id := range cycle.Members {
			if r, ok := a.assigned[id]; ok {
				target = r
				break
			}
		}
		if target == nil {
			target = a.newRing(domain.RingTypeCycle)
		}
		for _, id := range cycle.Members {
			if _, taken := a.assigned[id]; taken {
				continue
			}
			a.addMember(g, target, id)
		}
	}
}

func (a *Assembler) assembleTagRing(g *graph.Graph, tag domain.PatternTag, ringType domain.RingType) {
	var ring *domain.FraudRing
	for _, id := range g.NodeIDs() {
		node := g.Node(id)
		if !node.HasPattern(tag) {
			continue
		}
		if _, taken := a.assigned[id]; taken {
			continue
		}
		if ring == nil {
			ring = a.newRing(ringType)
		}
		a.addMember(g, ring, id)
	}
}

func (a *Assembler) newRing(ringType domain.RingType) *domain.FraudRing {
	a.counter++
	r := &domain.FraudRing{
		RingID:      fmt.Sprintf("RING_%03d", a.counter),
		PatternType: ringType,
	}
	a.rings = append(a.rings, r)
	return r
}

func (a *Assembler) addMember(g *graph.Graph, r *domain.FraudRing, id string) {
	r.MemberAccounts = append(r.MemberAccounts, id)
	a.assigned[id] = r
	g.Node(id).RingID = r.RingID
}

func meanScore(g *graph.Graph, members []string) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, id := range members {
		sum += g.Node(id).SuspicionScore
	}
	return math.Round(sum/float64(len(members))*10) / 10
}
