package core

// PluginSummary is the discovery view of one plugin.
type PluginSummary struct {
	PluginID      string   `json:"plugin_id"`
	DisplayName   string   `json:"display_name"`
	Version       string   `json:"version"`
	Services      []string `json:"services"`
	Dashboards    []string `json:"dashboards,omitempty"`
	Status        string   `json:"status"`
	HealthMessage string   `json:"health_message,omitempty"`
}

// Summarize describes every plugin in order.
func Summarize(plugins []Plugin) []PluginSummary {
	out := make([]PluginSummary, 0, len(plugins))
	for _, p := range plugins {
		manifest := p.Manifest()
		summary := PluginSummary{
			PluginID:      manifest.PluginID,
			DisplayName:   manifest.DisplayName,
			Version:       manifest.Version,
			Services:      manifest.Services,
			Status:        string(p.Health()),
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			summary.Dashboards = append(summary.Dashboards, dashboardPath(manifest.PluginID, d.Name))
		}
		out = append(out, summary)
	}
	return out
}

// OverallHealth is the worst status across plugins. No plugins is an error.
func OverallHealth(plugins []Plugin) HealthStatus {
	if len(plugins) == 0 {
		return HealthError
	}
	overall := HealthHealthy
	for _, p := range plugins {
		switch p.Health() {
		case HealthError:
			return HealthError
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return overall
}
