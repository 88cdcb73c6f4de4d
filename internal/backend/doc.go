// Package backend defines the Backend record routed to by the load balancer
// and the transport capability used to reach it.
//
// A Backend owns its health state: a lifetime request counter, the recent
// status history, the time of the last 5xx result and the cached health
// score. All of it is guarded by a per-backend mutex, so parallel dispatches
// may share backends freely. The transport is opaque to this package; it is
// built by a Factory from a host identifier, or supplied ready-made.
package backend
