package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/failover-lb/internal/backend"
)

// HealthCheckHeader carries the configured health-check path to the backend.
const HealthCheckHeader = "X-Health-Check-Path"

var ErrInvalidHost = errors.New("invalid backend host")

// hop-by-hop headers, removed before forwarding.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures every Transport built by a factory.
type Options struct {
	// Timeout bounds a single attempt, including reading the response
	// body. Zero means no limit. CallOptions.Timeout takes precedence.
	Timeout time.Duration
	// Client defaults to a client that never follows redirects.
	Client *http.Client
}

// Transport forwards requests to one backend.
type Transport struct {
	target    *url.URL
	client    *http.Client
	timeout   time.Duration
	healthURL string
}

// New builds a Transport for host. host is a base URL; a missing scheme
// means http.
func New(host string, healthURL string, opts Options) (*Transport, error) {
	target, err := parseHost(host)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Transport{
		target:    target,
		client:    client,
		timeout:   opts.Timeout,
		healthURL: healthURL,
	}, nil
}

// NewFactory returns a backend.Factory that builds a Transport per host.
func NewFactory(opts Options) backend.Factory {
	return func(host string, bo backend.Options) (backend.Transport, error) {
		return New(host, bo.HealthURL, opts)
	}
}

// Target returns the backend base URL.
func (t *Transport) Target() *url.URL {
	u := *t.target
	return &u
}

// RoundTrip implements backend.Transport.
func (t *Transport) RoundTrip(req *http.Request, opts *backend.CallOptions) (*http.Response, error) {
	timeout := t.timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	out := t.outgoing(ctx, req, opts)

	res, err := t.client.Do(out)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("forward to %s: %w", t.target.Host, err)
	}

	res.Body = &cancelOnClose{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

func (t *Transport) outgoing(ctx context.Context, req *http.Request, opts *backend.CallOptions) *http.Request {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.URL.Path, out.URL.RawPath = joinURLPath(t.target, req.URL)
	if t.target.RawQuery != "" && out.URL.RawQuery != "" {
		out.URL.RawQuery = t.target.RawQuery + "&" + out.URL.RawQuery
	} else if t.target.RawQuery != "" {
		out.URL.RawQuery = t.target.RawQuery
	}
	out.Host = t.target.Host

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if req.Host != "" {
		out.Header.Set("X-Forwarded-Host", req.Host)
	}
	proto := "http"
	if req.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)

	if t.healthURL != "" {
		out.Header.Set(HealthCheckHeader, t.healthURL)
	}

	if opts != nil {
		for key, values := range opts.Header {
			out.Header.Del(key)
			for _, v := range values {
				out.Header.Add(key, v)
			}
		}
	}

	return out
}

func parseHost(host string) (*url.URL, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHost, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidHost, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidHost, host)
	}

	return u, nil
}

func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}

	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// cancelOnClose releases the attempt's timeout once the body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
