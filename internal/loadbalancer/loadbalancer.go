package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/health"
	"github.com/angeloszaimis/failover-lb/internal/strategy"
)

// LoadBalancer dispatches requests across a fixed pool of backends.
// It is safe for concurrent use.
type LoadBalancer struct {
	backends []*backend.Backend
	logger   *slog.Logger
	now      func() time.Time
	intN     func(n int) int
}

// Option configures a LoadBalancer.
type Option func(*LoadBalancer)

// WithLogger sets the logger used for dispatch events.
func WithLogger(logger *slog.Logger) Option {
	return func(lb *LoadBalancer) {
		if logger != nil {
			lb.logger = logger
		}
	}
}

// WithClock replaces time.Now as the time basis for health scoring.
func WithClock(now func() time.Time) Option {
	return func(lb *LoadBalancer) {
		if now != nil {
			lb.now = now
		}
	}
}

// WithRandom replaces rand.Intn for choosing between the two candidates.
func WithRandom(intN func(n int) int) Option {
	return func(lb *LoadBalancer) {
		if intN != nil {
			lb.intN = intN
		}
	}
}

// Outcome describes how a request was served.
type Outcome struct {
	Response *http.Response
	// Backend served Response, or is nil when the pool was exhausted.
	Backend *backend.Backend
	// Attempts is the number of backends the request was forwarded to.
	Attempts int
}

// New builds a LoadBalancer from targets. Host targets are turned into
// backends with factory; built backends are used as is.
func New(targets []backend.Target, factory backend.Factory, opts backend.Options, options ...Option) (*LoadBalancer, error) {
	backends, err := backend.Resolve(targets, factory, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve backends: %w", err)
	}

	lb := &LoadBalancer{
		backends: backends,
		logger:   slog.Default(),
		now:      time.Now,
		intN:     rand.Intn,
	}
	for _, option := range options {
		option(lb)
	}

	return lb, nil
}

// Backends returns the pool in configuration order.
func (lb *LoadBalancer) Backends() []*backend.Backend {
	out := make([]*backend.Backend, len(lb.backends))
	copy(out, lb.backends)
	return out
}

// Snapshots returns the current state of every backend.
func (lb *LoadBalancer) Snapshots() []backend.Snapshot {
	out := make([]backend.Snapshot, 0, len(lb.backends))
	for _, b := range lb.backends {
		out = append(out, b.Snapshot())
	}
	return out
}

// Dispatch forwards req to the pool and returns the response to hand back to
// the caller. It never returns nil.
func (lb *LoadBalancer) Dispatch(req *http.Request, opts *backend.CallOptions) *http.Response {
	return lb.Route(req, opts).Response
}

// DispatchURL builds a GET request for rawURL and dispatches it. The error
// is non-nil only when rawURL cannot be turned into a request.
func (lb *LoadBalancer) DispatchURL(ctx context.Context, rawURL string, opts *backend.CallOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", rawURL, err)
	}
	return lb.Dispatch(req, opts), nil
}

// Route runs the dispatch loop for req and reports which backend served it.
//
// Only GET and HEAD requests are failed over after a 5xx, and only when
// their body is absent or can be replayed through GetBody. Inbound server
// requests carrying a body have no GetBody, so they get a single attempt.
// Once req's context is done the loop stops without recording the attempt
// against the backend.
func (lb *LoadBalancer) Route(req *http.Request, opts *backend.CallOptions) Outcome {
	log := lb.logger.With(
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path))

	attempted := make(map[string]struct{}, len(lb.backends))
	retryable := isRetryable(req)

	for {
		first, second := strategy.ChooseTop2(lb.backends, attempted)
		chosen := strategy.Pick(first, second, lb.intN)
		if chosen == nil {
			log.Error("No backend available", slog.Int("attempts", len(attempted)))
			return Outcome{Response: noBackendResponse(req), Attempts: len(attempted)}
		}

		attempted[chosen.Host()] = struct{}{}
		requests := chosen.IncrementRequests()

		res := lb.invoke(log, chosen, req, opts)

		// A caller that gave up says nothing about the backend.
		if err := req.Context().Err(); err != nil {
			log.Debug("Request cancelled by caller",
				slog.String("backend", chosen.Host()),
				slog.Any("err", err))
			return Outcome{Response: res, Backend: chosen, Attempts: len(attempted)}
		}

		score := chosen.Record(res.StatusCode, lb.now())

		log.Debug("Attempt completed",
			slog.String("backend", chosen.Host()),
			slog.Int("status", res.StatusCode),
			slog.Float64("health_score", score),
			slog.Uint64("requests", requests),
			slog.Int("attempt", len(attempted)))

		if !health.IsServerError(res.StatusCode) || !retryable {
			return Outcome{Response: res, Backend: chosen, Attempts: len(attempted)}
		}

		log.Warn("Backend failed, failing over",
			slog.String("backend", chosen.Host()),
			slog.Int("status", res.StatusCode))
		discard(res)
	}
}

// invoke calls the backend's transport and converts every failure into a
// synthetic 502 so that the loop only ever deals with responses.
func (lb *LoadBalancer) invoke(log *slog.Logger, b *backend.Backend, req *http.Request, opts *backend.CallOptions) (res *http.Response) {
	attemptReq, err := cloneRequest(req)
	if err != nil {
		log.Warn("Could not prepare request", slog.String("backend", b.Host()), slog.Any("err", err))
		return originUnreachableResponse(req)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Transport panicked", slog.String("backend", b.Host()), slog.Any("panic", r))
			res = originUnreachableResponse(req)
		}
	}()

	res, err = b.RoundTrip(attemptReq, opts)
	if err != nil {
		log.Warn("Transport failed", slog.String("backend", b.Host()), slog.Any("err", err))
		discard(res)
		return originUnreachableResponse(req)
	}
	if res == nil {
		log.Warn("Transport returned no response", slog.String("backend", b.Host()))
		return originUnreachableResponse(req)
	}

	return res
}

// isRetryable reports whether req may be re-issued to another backend:
// GET or HEAD with a body that is absent or can be replayed.
func isRetryable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// cloneRequest gives every attempt its own request. Replayable bodies are
// rewound so a retried attempt sends the full body again.
func cloneRequest(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil && req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}
