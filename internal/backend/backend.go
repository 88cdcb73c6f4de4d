package backend

import (
	"net/http"
	"sync"
	"time"

	"github.com/angeloszaimis/failover-lb/internal/health"
)

// Backend is one candidate endpoint together with its tracked health state.
type Backend struct {
	host      string
	transport Transport

	mutex        sync.Mutex
	requestCount uint64
	history      health.History
	lastErrorAt  time.Time
	healthScore  float64
}

// Snapshot is a point-in-time copy of a backend's state.
type Snapshot struct {
	Host         string    `json:"host" yaml:"host"`
	RequestCount uint64    `json:"request_count" yaml:"request_count"`
	HealthScore  float64   `json:"health_score" yaml:"health_score"`
	LastErrorAt  time.Time `json:"last_error_at" yaml:"last_error_at"`
	History      []int     `json:"history" yaml:"history"`
}

// New creates a Backend identified by host that forwards through transport.
// A new backend has an empty history and therefore a health score of 0.
func New(host string, transport Transport) *Backend {
	return &Backend{
		host:      host,
		transport: transport,
	}
}

// Host returns the backend's identifier.
func (b *Backend) Host() string {
	return b.host
}

// RoundTrip forwards req through the backend's transport.
func (b *Backend) RoundTrip(req *http.Request, opts *CallOptions) (*http.Response, error) {
	if b.transport == nil {
		return nil, ErrNoTransport
	}
	return b.transport.RoundTrip(req, opts)
}

// IncrementRequests counts one more request routed to this backend and
// returns the new total.
func (b *Backend) IncrementRequests() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.requestCount++
	return b.requestCount
}

// RequestCount returns the number of requests routed to this backend.
func (b *Backend) RequestCount() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.requestCount
}

// Record stores the outcome of an attempt and recomputes the health score
// with now as the time basis. A 5xx status also moves the last-error time.
// It returns the updated score.
func (b *Backend) Record(status int, now time.Time) float64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.history.Record(status)
	if health.IsServerError(status) {
		b.lastErrorAt = now
	}

	b.healthScore = health.Score(b.history.Values(), b.lastErrorAt, now)
	return b.healthScore
}

// HealthScore returns the score computed after the last recorded attempt.
func (b *Backend) HealthScore() float64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.healthScore
}

// SetHealthScore overrides the cached score until the next recorded attempt.
// Values are clamped to [0, 1].
func (b *Backend) SetHealthScore(score float64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.healthScore = min(max(score, 0), 1)
}

// Rank returns the health score and request count read under one lock, so
// the pair is consistent for comparisons.
func (b *Backend) Rank() (healthScore float64, requestCount uint64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.healthScore, b.requestCount
}

// LastErrorAt returns the time of the last 5xx result, or the zero time.
func (b *Backend) LastErrorAt() time.Time {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lastErrorAt
}

// History returns the recorded statuses, oldest first.
func (b *Backend) History() []int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.history.Values()
}

// Snapshot returns a copy of the backend's current state.
func (b *Backend) Snapshot() Snapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return Snapshot{
		Host:         b.host,
		RequestCount: b.requestCount,
		HealthScore:  b.healthScore,
		LastErrorAt:  b.lastErrorAt,
		History:      b.history.Values(),
	}
}
