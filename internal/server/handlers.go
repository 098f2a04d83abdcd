package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/goe-bridge/internal/core"
)

type healthResponse struct {
	Status  string               `json:"status"`
	Plugins []core.PluginSummary `json:"plugins"`
}

// HealthHandler reports plugin health. Any plugin in ERROR fails the check.
func HealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		overall := core.OverallHealth(plugins)
		code := http.StatusOK
		if overall == core.HealthError {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:  string(overall),
			Plugins: core.Summarize(plugins),
		})
	})
}
