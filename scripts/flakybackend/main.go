// Flakybackend is a test HTTP server that fails a configurable share of its
// requests, for watching the load balancer fail over by hand.
//
// Usage:
//
//	go run ./scripts/flakybackend -port 8081 -fail-rate 0.3 -status 503
//
// Every response carries the serving port in X-Served-By. /_ always answers
// 200 so it can double as the configured health URL.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"
)

type reply struct {
	Port     int    `json:"port"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Bytes    int    `json:"bytes"`
	Sequence uint64 `json:"sequence"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	failRate := flag.Float64("fail-rate", 0.2, "share of requests answered with -status, between 0 and 1")
	status := flag.Int("status", http.StatusServiceUnavailable, "status code used for failed requests")
	delay := flag.Duration("delay", 0, "added latency per request")
	flag.Parse()

	if *failRate < 0 || *failRate > 1 {
		log.Fatalf("fail-rate must be between 0 and 1, got %v", *failRate)
	}

	var sequence atomic.Uint64
	served := fmt.Sprintf("%d", *port)

	mux := http.NewServeMux()
	mux.HandleFunc("/_", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", served)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := sequence.Add(1)
		body, _ := io.ReadAll(r.Body)

		if *delay > 0 {
			time.Sleep(*delay)
		}

		w.Header().Set("X-Served-By", served)

		if rand.Float64() < *failRate {
			log.Printf("request #%d: method=%s path=%s -> %d (injected)", n, r.Method, r.URL.Path, *status)
			http.Error(w, http.StatusText(*status), *status)
			return
		}

		log.Printf("request #%d: method=%s path=%s from=%s", n, r.Method, r.URL.Path, r.Header.Get("X-Forwarded-For"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply{
			Port:     *port,
			Method:   r.Method,
			Path:     r.URL.Path,
			Bytes:    len(body),
			Sequence: n,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting flaky backend on %s (fail-rate=%.2f status=%d)", addr, *failRate, *status)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
