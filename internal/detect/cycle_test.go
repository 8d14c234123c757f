package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

func baseTime() time.Time {
	return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
}

func txAt(id, sender, receiver string, amount float64, offset time.Duration) domain.Transaction {
	return domain.Transaction{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     amount,
		Timestamp:  baseTime().Add(offset),
	}
}

func chain(ids ...string) []domain.Transaction {
	txs := make([]domain.Transaction, 0, len(ids))
	for i := 0; i+1 < len(ids); i++ {
		txs = append(txs, txAt(
			fmt.Sprintf("t%d", i), ids[i], ids[i+1], 1000, time.Duration(i)*time.Hour))
	}
	return txs
}

func cycleTxs(ids ...string) []domain.Transaction {
	closed := append(append([]string{}, ids...), ids[0])
	return chain(closed...)
}

func TestFindTriangle(t *testing.T) {
	g := graph.Build(cycleTxs("A", "B", "C"))
	result := FindCycles(g, domain.DefaultThresholds())

	if len(result.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(result.Cycles))
	}
	if result.Cycles[0].Length != 3 {
		t.Errorf("cycle length = %d, want 3", result.Cycles[0].Length)
	}
	for _, id := range []string{"A", "B", "C"} {
		if result.ShortestLength[id] != 3 {
			t.Errorf("shortest length for %s = %d, want 3", id, result.ShortestLength[id])
		}
	}
}

func TestCycleLengths(t *testing.T) {
	tests := []struct {
		name    string
		members []string
		want    int // cycles expected
	}{
		{"length 2 not reported", []string{"A", "B"}, 0},
		{"length 3 reported", []string{"A", "B", "C"}, 1},
		{"length 4 reported", []string{"A", "B", "C", "D"}, 1},
		{"length 5 reported", []string{"A", "B", "C", "D", "E"}, 1},
		{"length 6 not reported", []string{"A", "B", "C", "D", "E", "F"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.Build(cycleTxs(tt.members...))
			result := FindCycles(g, domain.DefaultThresholds())
			if len(result.Cycles) != tt.want {
				t.Errorf("got %d cycles, want %d", len(result.Cycles), tt.want)
			}
		})
	}
}

func TestDirectionCollapsed(t *testing.T) {
	// A→B→C→A and A→C→B→A share a member set; only one survives.
	txs := append(cycleTxs("A", "B", "C"), cycleTxs("A", "C", "B")...)
	for i := range txs {
		txs[i].ID = fmt.Sprintf("tx%d", i)
	}
	g := graph.Build(txs)
	result := FindCycles(g, domain.DefaultThresholds())

	if len(result.Cycles) != 1 {
		t.Errorf("expected direction-collapsed dedup to 1 cycle, got %d", len(result.Cycles))
	}
}

func TestSelfLoopNotACycle(t *testing.T) {
	g := graph.Build([]domain.Transaction{txAt("t0", "A", "A", 100, 0)})
	result := FindCycles(g, domain.DefaultThresholds())
	if len(result.Cycles) != 0 {
		t.Errorf("self-loop reported as cycle")
	}
}

func TestShortestLengthWins(t *testing.T) {
	// D sits on both a 4-cycle and a 3-cycle.
	txs := cycleTxs("A", "B", "C", "D")
	extra := cycleTxs("D", "X", "Y")
	for i := range extra {
		extra[i].ID = fmt.Sprintf("e%d", i)
	}
	g := graph.Build(append(txs, extra...))
	result := FindCycles(g, domain.DefaultThresholds())

	if len(result.Cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(result.Cycles))
	}
	if result.ShortestLength["D"] != 3 {
		t.Errorf("D shortest length = %d, want 3", result.ShortestLength["D"])
	}
	if result.ShortestLength["A"] != 4 {
		t.Errorf("A shortest length = %d, want 4", result.ShortestLength["A"])
	}
}

func TestCycleEmissionDeterministic(t *testing.T) {
	txs := append(cycleTxs("A", "B", "C"), cycleTxs("P", "Q", "R")...)
	for i := range txs {
		txs[i].ID = fmt.Sprintf("tx%d", i)
	}

	first := FindCycles(graph.Build(txs), domain.DefaultThresholds())
	second := FindCycles(graph.Build(txs), domain.DefaultThresholds())

	if len(first.Cycles) != len(second.Cycles) {
		t.Fatalf("cycle counts differ between runs")
	}
	for i := range first.Cycles {
		a, b := first.Cycles[i], second.Cycles[i]
		if a.Length != b.Length {
			t.Fatalf("cycle %d lengths differ", i)
		}
		for j := range a.Members {
			if a.Members[j] != b.Members[j] {
				t.Fatalf("cycle %d member order differs", i)
			}
		}
	}
}
