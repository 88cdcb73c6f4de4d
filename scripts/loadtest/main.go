// Loadtest sends concurrent requests through the load balancer and reports
// how they were spread across backends and how many ended in a 502.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/ -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -method POST -body '{"id":1}' -out summary.json
//
// GET and HEAD requests are failed over by the balancer, other methods are
// not, so comparing the two shows the retry loop at work.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const backendHeader = "X-Backend-Server"

type backendStats struct {
	Count     int             `json:"count"`
	Success   int             `json:"success"`
	Failure   int             `json:"failure"`
	Latencies []time.Duration `json:"-"`
}

type summary struct {
	Target        string                   `json:"target"`
	Method        string                   `json:"method"`
	Requests      int                      `json:"requests"`
	Concurrency   int                      `json:"concurrency"`
	Success       int                      `json:"success"`
	Failure       int                      `json:"failure"`
	Exhausted     int                      `json:"exhausted"`
	Unreachable   int                      `json:"unreachable"`
	TransportErrs int                      `json:"transport_errors"`
	DurationMS    int64                    `json:"duration_ms"`
	Throughput    float64                  `json:"throughput_rps"`
	StatusCodes   map[int]int              `json:"status_codes"`
	Backends      map[string]*backendStats `json:"backends"`
	P50MS         float64                  `json:"p50_ms"`
	P99MS         float64                  `json:"p99_ms"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", http.MethodGet, "HTTP method")
		body        = flag.String("body", "", "Request body")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	var (
		mu        sync.Mutex
		latencies []time.Duration
		wg        sync.WaitGroup
	)
	report := summary{
		Target:      *url,
		Method:      *method,
		Requests:    *requests,
		Concurrency: *concurrency,
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]*backendStats),
	}

	jobs := make(chan int)
	start := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				var reqBody io.Reader
				if *body != "" {
					reqBody = strings.NewReader(*body)
				}
				req, err := http.NewRequest(*method, *url, reqBody)
				if err != nil {
					fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
					os.Exit(1)
				}

				began := time.Now()
				resp, err := client.Do(req)
				dur := time.Since(began)

				if err != nil {
					mu.Lock()
					report.TransportErrs++
					report.Failure++
					mu.Unlock()
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}

				payload, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				backend := resp.Header.Get(backendHeader)
				if backend == "" {
					backend = "(none)"
				}
				ok := resp.StatusCode < http.StatusInternalServerError

				mu.Lock()
				latencies = append(latencies, dur)
				report.StatusCodes[resp.StatusCode]++
				if ok {
					report.Success++
				} else {
					report.Failure++
				}
				if resp.StatusCode == http.StatusBadGateway {
					switch strings.TrimSpace(string(payload)) {
					case "no backend available":
						report.Exhausted++
					case "unable to connect to origin":
						report.Unreachable++
					}
				}
				bs, found := report.Backends[backend]
				if !found {
					bs = &backendStats{}
					report.Backends[backend] = bs
				}
				bs.Count++
				if ok {
					bs.Success++
				} else {
					bs.Failure++
				}
				bs.Latencies = append(bs.Latencies, dur)
				mu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d backend=%s status=%d dur=%v\n", workerID, idx, backend, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	report.DurationMS = elapsed.Milliseconds()
	report.Throughput = float64(*requests) / elapsed.Seconds()
	report.P50MS = percentileMS(latencies, 0.50)
	report.P99MS = percentileMS(latencies, 0.99)

	printSummary(report)

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if report.Failure > 0 {
		os.Exit(2)
	}
}

func percentileMS(samples []time.Duration, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return float64(sorted[int(float64(len(sorted)-1)*pct)].Microseconds()) / 1000
}

func printSummary(r summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s %s\n", r.Method, r.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", r.Requests, r.Concurrency)
	fmt.Printf("Success: %d  Failure: %d  (exhausted=%d unreachable=%d transport=%d)\n",
		r.Success, r.Failure, r.Exhausted, r.Unreachable, r.TransportErrs)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s  p50=%.2fms p99=%.2fms\n",
		r.DurationMS, r.Throughput, r.P50MS, r.P99MS)

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, r.StatusCodes[code])
	}

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(r.Backends))
	for name := range r.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bs := r.Backends[name]
		fmt.Printf("  %s -> total=%d success=%d failure=%d p50=%.2fms\n",
			name, bs.Count, bs.Success, bs.Failure, percentileMS(bs.Latencies, 0.50))
	}
}
