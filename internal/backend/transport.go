package backend

import (
	"errors"
	"net/http"
	"time"
)

// ErrNoTransport is returned when a backend has no transport to forward with.
var ErrNoTransport = errors.New("backend has no transport")

// CallOptions carries per-call settings handed to the transport unchanged.
type CallOptions struct {
	// Header values are set on the forwarded request, replacing any
	// existing values for the same keys.
	Header http.Header

	// Timeout bounds a single attempt. Zero leaves the transport default.
	Timeout time.Duration
}

//go:generate mockgen -destination=../mocks/transport_mock.go -package=mocks github.com/angeloszaimis/failover-lb/internal/backend Transport

// Transport performs the network call for one backend. Failure is reported
// either as a non-nil error or as a response with a 5xx status.
type Transport interface {
	RoundTrip(req *http.Request, opts *CallOptions) (*http.Response, error)
}

// TransportFunc adapts an ordinary function to a Transport.
type TransportFunc func(req *http.Request, opts *CallOptions) (*http.Response, error)

// RoundTrip calls f(req, opts).
func (f TransportFunc) RoundTrip(req *http.Request, opts *CallOptions) (*http.Response, error) {
	return f(req, opts)
}
