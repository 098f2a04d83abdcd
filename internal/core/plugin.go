package core

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus is what /health and the registry report for a plugin.
// DEGRADED still serves traffic; only ERROR fails the health check.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is the compile-time contract for bridged devices.
type Plugin interface {
	ID() string
	Manifest() Manifest
	Dashboards() []Dashboard
	RegisterGRPC(*grpc.Server)
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner is implemented by plugins that own a poll loop.
type Runner interface {
	Run(ctx context.Context)
}

// RunPlugins runs every Runner until ctx is done and waits for all of them.
func RunPlugins(ctx context.Context, plugins []Plugin) {
	var wg sync.WaitGroup
	for _, p := range plugins {
		runner, ok := p.(Runner)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}
	wg.Wait()
}
