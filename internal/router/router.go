package router

import (
	"net/http"

	"google.golang.org/grpc"

	"github.com/joshp123/goe-bridge/internal/core"
	"github.com/joshp123/goe-bridge/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPlugins registers plugin services on the gRPC server.
func RegisterPlugins(grpcServer *grpc.Server, plugins []core.Plugin) {
	for _, p := range plugins {
		p.RegisterGRPC(grpcServer)
	}
}

// HTTPMux routes health, metrics and dashboards, plus any plugin HTTP handlers.
func HTTPMux(plugins []core.Plugin, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", server.HealthHandler(plugins))
	mux.Handle("/metrics", server.MetricsHandler(registry))
	mux.Handle("/dashboards/", server.DashboardsHandler("/dashboards/", core.DashboardsMap(plugins)))
	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	return mux
}
