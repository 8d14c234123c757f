// Benchmark tool for testing Harrier against synthetic mule networks.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080
//
// This tool:
//   1. Generates seeded batches with planted cycle rings, fan-in hubs,
//      shell chains, and clean payroll background traffic
//   2. Sends each batch to Harrier for analysis
//   3. Compares flagged accounts with the planted mule accounts
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Batch is one generated workload with its ground-truth labels.
type Batch struct {
	ID           int
	Transactions []domain.TransactionRequest
	MuleAccounts map[string]bool
	AllAccounts  map[string]bool
}

// AnalyzeRequest is the Harrier API request format.
type AnalyzeRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// AnalyzeResponse is the subset of the analysis we score against.
type AnalyzeResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	TriageStatus string         `json:"triageStatus"`
	Report       *domain.Report `json:"report"`
}

// Metrics tracks benchmark results at account granularity.
type Metrics struct {
	TruePositives  int64 // Planted mule flagged
	FalsePositives int64 // Clean account flagged
	TrueNegatives  int64 // Clean account not flagged
	FalseNegatives int64 // Planted mule missed

	BatchesProcessed int64
	TotalErrors      int64
	RingsDetected    int64
	RingsPlanted     int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 50, "Number of batches to generate")
	seed := flag.Int64("seed", 42, "PRNG seed for reproducible workloads")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER BENCHMARK - Synthetic Mule Networks            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d\n", *batches)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	fmt.Printf("\nGenerating %d seeded batches...\n", *batches)
	workload := generateWorkload(*batches, *seed)

	var totalTxs, totalMules int
	for _, b := range workload {
		totalTxs += len(b.Transactions)
		totalMules += len(b.MuleAccounts)
	}
	fmt.Printf("✓ Generated %d transactions, %d planted mule accounts\n", totalTxs, totalMules)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(workload, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateWorkload builds batches mixing planted mule structures with
// clean background traffic. Every batch gets its own account namespace
// so report caching never short-circuits a request.
func generateWorkload(count int, seed int64) []Batch {
	rng := rand.New(rand.NewSource(seed))
	batches := make([]Batch, 0, count)
	for i := 0; i < count; i++ {
		batches = append(batches, generateBatch(i, rng))
	}
	return batches
}

func generateBatch(id int, rng *rand.Rand) Batch {
	b := Batch{
		ID:           id,
		MuleAccounts: make(map[string]bool),
		AllAccounts:  make(map[string]bool),
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	txSeq := 0

	account := func(kind string, n int) string {
		name := fmt.Sprintf("b%03d-%s-%03d", id, kind, n)
		b.AllAccounts[name] = true
		return name
	}
	add := func(sender, receiver string, amount float64, at time.Time) {
		txSeq++
		b.Transactions = append(b.Transactions, domain.TransactionRequest{
			TransactionID: fmt.Sprintf("b%03d-tx-%05d", id, txSeq),
			SenderID:      sender,
			ReceiverID:    receiver,
			Amount:        amount,
			Timestamp:     at.UTC().Format(domain.TimestampLayout),
		})
	}
	mule := func(name string) { b.MuleAccounts[name] = true }

	// Cycle ring: 3 to 6 members passing funds around within two days.
	ringSize := 3 + rng.Intn(4)
	ring := make([]string, ringSize)
	for i := range ring {
		ring[i] = account("ring", i)
		mule(ring[i])
	}
	for i := range ring {
		add(ring[i], ring[(i+1)%ringSize], 200+rng.Float64()*800, base.Add(time.Duration(i)*3*time.Hour))
	}

	// Fan-in hub: many small senders converging on one collector.
	hub := account("hub", 0)
	mule(hub)
	senders := 12 + rng.Intn(8)
	for i := 0; i < senders; i++ {
		src := account("src", i)
		mule(src)
		add(src, hub, 50+rng.Float64()*150, base.Add(time.Duration(rng.Intn(48))*time.Hour))
	}

	// Shell chain: rapid pass-through hops holding funds under an hour.
	hops := 3 + rng.Intn(3)
	prev := account("chain", 0)
	mule(prev)
	amount := 5000 + rng.Float64()*2000
	at := base.Add(72 * time.Hour)
	for i := 1; i <= hops; i++ {
		next := account("chain", i)
		mule(next)
		add(prev, next, amount*0.98, at)
		prev = next
		at = at.Add(20 * time.Minute)
		amount *= 0.98
	}

	// Clean payroll: one employer paying a stable roster on a monthly
	// cadence. These accounts must not be flagged.
	employer := account("corp", 0)
	for i := 0; i < 10; i++ {
		employee := account("emp", i)
		for month := 0; month < 3; month++ {
			add(employer, employee, 3000, base.AddDate(0, month, 0).Add(time.Duration(i)*time.Minute))
		}
	}

	// Random clean noise between otherwise idle accounts.
	for i := 0; i < 20; i++ {
		from := account("noise", rng.Intn(30))
		to := account("noise", rng.Intn(30))
		if from == to {
			continue
		}
		add(from, to, 10+rng.Float64()*500, base.Add(time.Duration(rng.Intn(24*30))*time.Hour))
	}

	return b
}

func runBenchmark(batches []Batch, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Batch, 10)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for batch := range work {
				start := time.Now()
				result, err := analyzeBatch(client, baseURL, tenantID, batch)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.BatchesProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: batch %d -> %v\n", batch.ID, err)
					}
					continue
				}

				scoreBatch(metrics, batch, result, verbose)
			}
		}()
	}

	for _, batch := range batches {
		work <- batch
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreBatch(metrics *Metrics, batch Batch, result *AnalyzeResponse, verbose bool) {
	flagged := make(map[string]bool)
	if result.Report != nil {
		for _, acct := range result.Report.SuspiciousAccounts {
			flagged[acct.AccountID] = true
		}
		atomic.AddInt64(&metrics.RingsDetected, int64(len(result.Report.FraudRings)))
	}
	// One cycle ring is planted per batch; fan-in and chain structures
	// may assemble into additional rings.
	atomic.AddInt64(&metrics.RingsPlanted, 1)

	var tp, fp, tn, fn int64
	for acct := range batch.AllAccounts {
		predicted := flagged[acct]
		actual := batch.MuleAccounts[acct]
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}

	atomic.AddInt64(&metrics.TruePositives, tp)
	atomic.AddInt64(&metrics.FalsePositives, fp)
	atomic.AddInt64(&metrics.TrueNegatives, tn)
	atomic.AddInt64(&metrics.FalseNegatives, fn)

	if verbose {
		status := "✓"
		if fp > 0 || fn > 0 {
			status = "✗"
		}
		fmt.Printf("%s batch %03d | triage: %-4s | flagged: %3d | tp: %3d fp: %3d fn: %3d\n",
			status, batch.ID, result.TriageStatus, len(flagged), tp, fp, fn)
	}
}

func analyzeBatch(client *http.Client, baseURL, tenantID string, batch Batch) (*AnalyzeResponse, error) {
	body, err := json.Marshal(AnalyzeRequest{Transactions: batch.Transactions})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nWORKLOAD\n")
	fmt.Printf("   Batches Processed: %d\n", m.BatchesProcessed)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)
	fmt.Printf("   Rings Detected:    %d (planted cycle rings: %d)\n", m.RingsDetected, m.RingsPlanted)

	fmt.Printf("\nCONFUSION MATRIX (accounts)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  M  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged accounts, how many were planted mules)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of planted mules, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.BatchesProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.BatchesProcessed)
		bps := float64(m.BatchesProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms/batch\n", avgMs)
		fmt.Printf("   Throughput:       %.2f batches/sec\n", bps)
	}

	fmt.Println()
}
