// Package circuitbreaker stops forwarding to a backend that keeps failing.
//
// A breaker has three states:
//
//   - CLOSED: requests pass through
//   - OPEN: requests fail fast with ErrOpen
//   - HALF-OPEN: a single probe is let through to test recovery
//
// Registry keeps one breaker per backend host and can wrap a transport
// factory so every backend in a pool is guarded:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	factory := registry.Decorate(transport.NewFactory(transport.Options{}))
//
// A failure is a transport error or a 5xx response.
package circuitbreaker
