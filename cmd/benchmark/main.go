// Benchmark tool for measuring a running FraudGuard instance against
// labeled transaction data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/transactions.csv -url http://localhost:8000
//	go run ./cmd/benchmark -generate 5000 -url http://localhost:8000
//
// This tool:
//  1. Reads labeled transactions (or generates them)
//  2. Sends each transaction to POST /predict
//  3. Compares the predicted decision with the fraud label
//  4. Reports AUC, precision, recall, F1, the confusion matrix and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/evaluation"
)

// Result tracks benchmark outcomes. Scores[i] is the fraud score served for
// the record labeled Labels[i].
type Result struct {
	mu     sync.Mutex
	Labels []int
	Scores []float64

	TotalProcessed   int64
	TotalErrors      int64
	ProcessingTimeMs int64
}

func (r *Result) add(label int, score float64) {
	r.mu.Lock()
	r.Labels = append(r.Labels, label)
	r.Scores = append(r.Scores, score)
	r.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labeled transactions CSV")
	generate := flag.Int("generate", 0, "Generate this many synthetic transactions instead of reading a CSV")
	fraudRate := flag.Float64("fraud-rate", 0.02, "Fraud rate for generated transactions")
	seed := flag.Int64("seed", 7, "Seed for generated transactions")
	baseURL := flag.String("url", "http://localhost:8000", "FraudGuard base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" && *generate <= 0 {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8000]")
		fmt.Println("       benchmark -generate 5000 [-url http://localhost:8000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║             FRAUDGUARD BENCHMARK - Labeled Replay             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nFraudGuard URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:      %s\n", *tenantID)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Limit:          %d\n", *limit)
	fmt.Println()

	if err := checkReady(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudGuard not ready at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FraudGuard is running with a trained model:")
		fmt.Println("  FRAUDGUARD_TRAIN_ON_START=true go run ./cmd/fraudguard")
		os.Exit(1)
	}
	fmt.Println("✓ FraudGuard is ready")

	var ds *domain.Dataset
	if *generate > 0 {
		ds = dataset.Generate(*generate, *fraudRate, *seed)
		fmt.Printf("✓ Generated %d transactions\n", ds.Len())
	} else {
		var err error
		ds, err = dataset.LoadCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Loaded %d transactions from %s\n", ds.Len(), *csvPath)
	}
	if *limit > 0 && ds.Len() > *limit {
		ds.Records = ds.Records[:*limit]
		ds.Labels = ds.Labels[:*limit]
	}

	fraud := ds.Positives()
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraud, 100*float64(fraud)/float64(ds.Len()))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", ds.Len()-fraud, 100*float64(ds.Len()-fraud)/float64(ds.Len()))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	result := runBenchmark(ds, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(result, duration)
}

func checkReady(baseURL string) error {
	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

type job struct {
	tx    domain.Transaction
	label int
}

func runBenchmark(ds *domain.Dataset, baseURL, tenantID string, numWorkers int, verbose bool) *Result {
	result := &Result{}

	work := make(chan job, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for j := range work {
				start := time.Now()
				rec, err := predict(client, baseURL, tenantID, j.tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&result.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&result.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&result.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", j.tx.TransactionID, err)
					}
					continue
				}

				result.add(j.label, rec.FraudScore)

				if verbose {
					status := "✓"
					if rec.IsFraudPredicted != (j.label == 1) {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Amount: %10.2f | Fraud: %-5v | %-7s %-8s (%.3f)\n",
						status,
						j.tx.TransactionID,
						j.tx.Amount,
						j.label == 1,
						rec.RiskLevel,
						rec.Action,
						rec.FraudScore,
					)
				}
			}
		}()
	}

	for i := range ds.Records {
		work <- job{tx: ds.Records[i], label: ds.Labels[i]}
	}
	close(work)

	wg.Wait()

	return result
}

func predict(client *http.Client, baseURL, tenantID string, tx domain.Transaction) (*domain.PredictionRecord, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
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

	var rec domain.PredictionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func printResults(r *Result, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	// MEDIUM and above count as flagged
	m := evaluation.Metrics(r.Labels, r.Scores, 0.5)
	c := m.Confusion

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", r.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", c.TruePositives+c.FalseNegatives)
	fmt.Printf("   Total Non-Fraud:  %d\n", c.TrueNegatives+c.FalsePositives)
	fmt.Printf("   Errors:           %d\n", r.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED     PASSED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", c.TruePositives, c.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", c.FalsePositives, c.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   AUC:          %.4f  (ranking quality of the fraud score)\n", m.AUC)
	fmt.Printf("   Precision:    %.4f  (of alerts, how many were actual fraud)\n", m.Precision)
	fmt.Printf("   Recall:       %.4f  (of fraud, how many did we catch)\n", m.Recall)
	fmt.Printf("   F1-Score:     %.4f  (harmonic mean of precision & recall)\n", m.F1)
	fmt.Printf("   Specificity:  %.4f  (of legitimate, how many passed)\n", m.Specificity)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if r.TotalProcessed > 0 {
		avgMs := float64(r.ProcessingTimeMs) / float64(r.TotalProcessed)
		tps := float64(r.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case m.Recall >= 0.9:
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	case m.Recall >= 0.7:
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	case m.Recall >= 0.5:
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	default:
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	switch {
	case m.Precision >= 0.5:
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	case m.Precision >= 0.2:
		fmt.Println("   ⚠️  Low precision - many false alarms")
	default:
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
