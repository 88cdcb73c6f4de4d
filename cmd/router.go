package main

import (
	"net/http"

	"github.com/angeloszaimis/failover-lb/internal/handler"
	"github.com/angeloszaimis/failover-lb/internal/loadbalancer"
)

// backendsPath serves backend state instead of being proxied.
const backendsPath = "/_lb/backends"

func setupRouter(loadBalancerHandler *handler.LoadBalancerHandler, lb *loadbalancer.LoadBalancer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", loadBalancerHandler)
	mux.HandleFunc(backendsPath, handler.BackendsHandler(lb))

	return mux
}
