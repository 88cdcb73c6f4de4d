// Package handler exposes the load balancer over HTTP. LoadBalancerHandler
// forwards every incoming request through the dispatch loop and writes back
// whatever response the loop settles on.
package handler
