// Package transport forwards requests to a single backend over HTTP.
//
// A Transport rewrites each request onto its backend's base URL, adds the
// usual X-Forwarded-* headers and applies per-call header overrides and
// timeouts. NewFactory adapts it to backend.Factory so a pool can be built
// from plain host URLs.
package transport
