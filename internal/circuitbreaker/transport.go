package circuitbreaker

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/health"
)

// ErrOpen is returned instead of forwarding while a breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Wrap guards next with the breaker registered for host.
func (r *Registry) Wrap(host string, next backend.Transport) backend.Transport {
	cb := r.GetBreaker(host)

	return backend.TransportFunc(func(req *http.Request, opts *backend.CallOptions) (*http.Response, error) {
		if !cb.Allow() {
			return nil, fmt.Errorf("%s: %w", host, ErrOpen)
		}

		// A panicking transport still counts as a failure.
		succeeded := false
		defer func() {
			if succeeded {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
		}()

		res, err := next.RoundTrip(req, opts)
		succeeded = err == nil && res != nil && !health.IsServerError(res.StatusCode)
		return res, err
	})
}

// Decorate returns a factory whose transports are wrapped by Wrap.
func (r *Registry) Decorate(factory backend.Factory) backend.Factory {
	return func(host string, opts backend.Options) (backend.Transport, error) {
		next, err := factory(host, opts)
		if err != nil {
			return nil, err
		}
		return r.Wrap(host, next), nil
	}
}
