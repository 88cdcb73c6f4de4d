// Package loadbalancer runs the per-request dispatch loop.
//
// For every request the loop asks the strategy package for the two best
// backends not yet attempted, picks one of them at random, forwards the
// request through that backend's transport and records the outcome into
// the backend's health state. Server errors on GET and HEAD requests fail
// over to the next candidate; everything else is returned as is. When every
// backend has been attempted the caller receives a synthesized 502.
//
// Transport errors never reach the caller: they are converted into a 502
// response and scored exactly like a 5xx returned by the backend.
package loadbalancer
