package goecharger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joshp123/goe-bridge/internal/core"
	"github.com/joshp123/goe-bridge/internal/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginHTTPRoutes(t *testing.T) {
	plugin := newTestPlugin(t, sampleStatus)
	require.True(t, plugin.Scheduler().RunCycle(context.Background()).OK())

	var _ core.HTTPRegistrant = plugin
	mux := router.HTTPMux([]core.Plugin{plugin}, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/goecharger/attributes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var attrs struct {
		Service    string `json:"service"`
		Attributes []struct {
			Path     string `json:"path"`
			Value    any    `json:"value"`
			Text     string `json:"text"`
			Writable bool   `json:"writable"`
		} `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attrs))
	assert.Equal(t, "com.victronenergy.evcharger.http_01", attrs.Service)
	require.Len(t, attrs.Attributes, 25)
	for _, a := range attrs.Attributes {
		if a.Path == PathPower {
			assert.Equal(t, float64(15000), a.Value)
			assert.Equal(t, "15000W", a.Text)
		}
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/goecharger/liveness", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var liveness map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &liveness))
	assert.Equal(t, float64(1), liveness["update_index"])
	assert.Equal(t, float64(15000), liveness["power_w"])
	assert.NotEmpty(t, liveness["last_update"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/goecharger/liveness", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
