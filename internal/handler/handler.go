package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/loadbalancer"
)

// BackendHeader names the backend that produced the response.
const BackendHeader = "X-Backend-Server"

// hop-by-hop headers, not copied back to the client.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

type LoadBalancerHandler struct {
	logger      *slog.Logger
	balancer    *loadbalancer.LoadBalancer
	callOptions *backend.CallOptions
}

func NewLoadBalancerHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, opts *backend.CallOptions) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:      logger,
		balancer:    lb,
		callOptions: opts,
	}
}

func (h *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)
	start := time.Now()

	h.logger.Debug("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	outcome := h.balancer.Route(r, h.callOptions)
	res := outcome.Response
	defer res.Body.Close()

	header := w.Header()
	for key, values := range res.Header {
		if _, hop := hopHeaders[key]; hop {
			continue
		}
		header[key] = append([]string(nil), values...)
	}

	served := ""
	if outcome.Backend != nil {
		served = outcome.Backend.Host()
		header.Set(BackendHeader, served)
	} else {
		header.Del(BackendHeader)
	}

	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		h.logger.Warn("Failed to copy response body",
			slog.String("client", clientIP),
			slog.String("backend", served),
			slog.Any("err", err))
	}

	h.logger.Info("Request completed",
		slog.String("client", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("backend", served),
		slog.Int("status", res.StatusCode),
		slog.Int("attempts", outcome.Attempts),
		slog.Duration("duration", time.Since(start)))
}

// BackendsHandler renders the state of every backend as JSON.
func BackendsHandler(lb *loadbalancer.LoadBalancer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(lb.Snapshots())
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
