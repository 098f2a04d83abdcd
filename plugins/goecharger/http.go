package goecharger

import (
	"encoding/json"
	"net/http"
)

// RegisterHTTP exposes read-only JSON views of the bus next to /health.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle("/goecharger/attributes", jsonView(func() any { return attributesDocument(p.session) }))
	mux.Handle("/goecharger/liveness", jsonView(func() any { return livenessDocument(p.session) }))
}

func jsonView(build func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(build())
	})
}
