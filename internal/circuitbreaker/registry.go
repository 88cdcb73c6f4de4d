package circuitbreaker

import (
	"sync"
	"time"
)

type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// WithClock sets the time source of breakers created from now on.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if now != nil {
		r.now = now
	}
	return r
}

func (r *Registry) GetBreaker(host string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[host]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it.
	if cb, exists = r.breakers[host]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	cb.now = r.now
	r.breakers[host] = cb
	return cb
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for host, cb := range r.breakers {
		stats[host] = cb.State()
	}
	return stats
}
