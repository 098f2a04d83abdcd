package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DashboardsHandler serves dashboard JSON by URL path. The prefix itself
// returns the sorted list of known dashboard paths.
func DashboardsHandler(prefix string, dashboards map[string][]byte) http.Handler {
	index := make([]string, 0, len(dashboards))
	for path := range dashboards {
		index = append(index, path)
	}
	sort.Strings(index)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == prefix {
			_ = json.NewEncoder(w).Encode(index)
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
}

// MetricsHandler exposes the registry and counts its own scrapes on it.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		Registry:            registry,
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: 4,
	}))
}
