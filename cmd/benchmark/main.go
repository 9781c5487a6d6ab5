// Benchmark tool for testing ClickShield against labeled click data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/clicks.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled click data (CSV with a fraud label column)
//   2. Sends each click to ClickShield for scoring
//   3. Compares the fraud verdict with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns (header-driven, case-insensitive):
//   ip, device_type, country_code, campaign_id, cost_micros, is_fraud
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledClick represents a row from the benchmark dataset
type LabeledClick struct {
	IP          string
	DeviceType  string
	CountryCode string
	CampaignID  string
	CostMicros  int64
	IsFraud     bool
}

// ClickRequest is the ClickShield API request format
type ClickRequest struct {
	IP          string `json:"ip"`
	DeviceType  string `json:"deviceType"`
	CountryCode string `json:"countryCode"`
	CampaignID  string `json:"campaignId,omitempty"`
	CostMicros  int64  `json:"costMicros"`
}

// ScoreResponse is the ClickShield API response format
type ScoreResponse struct {
	ClickID          string  `json:"clickId"`
	IsFraud          bool    `json:"isFraud"`
	FraudProbability float64 `json:"fraudProbability"`
	Confidence       float64 `json:"confidence"`
	ModelUsed        string  `json:"modelUsed"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud scored as fraud
	FalsePositives int64 // Legit scored as fraud
	TrueNegatives  int64 // Legit scored as legit
	FalseNegatives int64 // Fraud scored as legit (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled click CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "ClickShield base URL")
	accountID := flag.String("account", "benchmark-test", "Account ID for requests")
	limit := flag.Int("limit", 10000, "Maximum clicks to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud clicks")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each click result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/clicks.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=================================================================")
	fmt.Println("          CLICKSHIELD BENCHMARK - Click Fraud Scoring")
	fmt.Println("=================================================================")
	fmt.Printf("\nCSV File:        %s\n", *csvPath)
	fmt.Printf("ClickShield URL: %s\n", *baseURL)
	fmt.Printf("Account ID:      %s\n", *accountID)
	fmt.Printf("Workers:         %d\n", *workers)
	fmt.Printf("Limit:           %d\n", *limit)
	fmt.Printf("Fraud Only:      %v\n", *fraudOnly)
	fmt.Printf("Sample Rate:     %.2f\n", *sampleRate)
	fmt.Println()

	// Check ClickShield is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ClickShield not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure ClickShield is running:")
		fmt.Println("  go run cmd/clickshield/main.go")
		os.Exit(1)
	}
	fmt.Println("ClickShield is healthy")

	// Read labeled click data
	fmt.Printf("\nReading click data from %s...\n", *csvPath)
	clicks, err := readClickCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d clicks\n", len(clicks))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, c := range clicks {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(clicks)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(clicks)-fraudCount, 100*float64(len(clicks)-fraudCount)/float64(len(clicks)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(clicks, *baseURL, *accountID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readClickCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]LabeledClick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["ip"]; !ok {
		return nil, fmt.Errorf("missing required column: ip")
	}
	if _, ok := colIndex["is_fraud"]; !ok {
		return nil, fmt.Errorf("missing required column: is_fraud")
	}

	col := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var clicks []LabeledClick
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := col(record, "is_fraud") == "1" || strings.EqualFold(col(record, "is_fraud"), "true")

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud clicks
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		costMicros, _ := strconv.ParseInt(col(record, "cost_micros"), 10, 64)

		clicks = append(clicks, LabeledClick{
			IP:          col(record, "ip"),
			DeviceType:  col(record, "device_type"),
			CountryCode: col(record, "country_code"),
			CampaignID:  col(record, "campaign_id"),
			CostMicros:  costMicros,
			IsFraud:     isFraud,
		})

		if limit > 0 && len(clicks) >= limit {
			break
		}
	}

	return clicks, nil
}

func runBenchmark(clicks []LabeledClick, baseURL, accountID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledClick, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for click := range work {
				start := time.Now()
				result, err := scoreClick(client, baseURL, accountID, click)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", click.IP, err)
					}
					continue
				}

				// Track actual labels
				if click.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Calculate confusion matrix
				predicted := result.IsFraud
				actual := click.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "ok  "
					if (predicted && !actual) || (!predicted && actual) {
						status = "miss"
					}
					fmt.Printf("%s %-15s | Device: %-8s | Country: %-2s | Fraud: %-5v | Scored: %-5v (p=%.2f, %s)\n",
						status,
						click.IP,
						click.DeviceType,
						click.CountryCode,
						click.IsFraud,
						result.IsFraud,
						result.FraudProbability,
						result.ModelUsed,
					)
				}
			}
		}()
	}

	// Send work
	for _, click := range clicks {
		work <- click
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func scoreClick(client *http.Client, baseURL, accountID string, click LabeledClick) (*ScoreResponse, error) {
	req := ClickRequest{
		IP:          click.IP,
		DeviceType:  click.DeviceType,
		CountryCode: click.CountryCode,
		CampaignID:  click.CampaignID,
		CostMicros:  click.CostMicros,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/clicks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Account-ID", accountID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=================================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("=================================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    Fraud       Legit")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("           L  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	// Calculate metrics
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
	fmt.Printf("   Precision:  %.4f  (of fraud verdicts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f clicks/sec\n", cps)
	}

	// Interpretation
	fmt.Printf("\nINTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   Poor recall - most fraud is being missed")
	}

	if precision >= 0.5 {
		fmt.Println("   Good precision - fraud verdicts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   Low precision - many false alarms")
	} else {
		fmt.Println("   Very low precision - mostly false alarms")
	}

	fmt.Println()
}
