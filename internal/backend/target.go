package backend

import (
	"errors"
	"fmt"
)

// DefaultHealthURL is the health-check path forwarded to transports when
// none is configured.
const DefaultHealthURL = "/_"

var (
	ErrEmptyPool     = errors.New("backend pool is empty")
	ErrDuplicateHost = errors.New("duplicate backend host")
	ErrNoFactory     = errors.New("no transport factory for host target")
)

// Options are shared settings handed to the Factory for every host.
type Options struct {
	// HealthURL is forwarded to the transport; nothing here probes it.
	HealthURL string
}

// Factory builds the transport for a host identifier.
type Factory func(host string, opts Options) (Transport, error)

// Target is an entry of a backend pool: either a Host that still needs a
// transport or an already built *Backend.
type Target interface {
	resolve(factory Factory, opts Options) (*Backend, error)
}

// Host is a raw host identifier turned into a Backend through a Factory.
type Host string

func (h Host) resolve(factory Factory, opts Options) (*Backend, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, h)
	}

	transport, err := factory(string(h), opts)
	if err != nil {
		return nil, fmt.Errorf("build transport for %s: %w", h, err)
	}

	return New(string(h), transport), nil
}

func (b *Backend) resolve(Factory, Options) (*Backend, error) {
	return b, nil
}

// Resolve turns a mixed list of targets into backends. Hosts must be unique
// across the resulting pool.
func Resolve(targets []Target, factory Factory, opts Options) ([]*Backend, error) {
	if len(targets) == 0 {
		return nil, ErrEmptyPool
	}

	if opts.HealthURL == "" {
		opts.HealthURL = DefaultHealthURL
	}

	backends := make([]*Backend, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))

	for _, target := range targets {
		if target == nil {
			return nil, fmt.Errorf("nil backend target")
		}

		b, err := target.resolve(factory, opts)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("nil backend target")
		}

		if _, ok := seen[b.Host()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHost, b.Host())
		}
		seen[b.Host()] = struct{}{}
		backends = append(backends, b)
	}

	return backends, nil
}
