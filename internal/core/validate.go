package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	pluginIDPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)
	dashboardNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// ValidatePlugins checks the plugin contract at startup. All violations are
// reported together.
func ValidatePlugins(plugins []Plugin) error {
	var errs []error
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		if !pluginIDPattern.MatchString(id) {
			errs = append(errs, fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate plugin id: %s", id))
			continue
		}
		seen[id] = true

		manifest := plugin.Manifest()
		if manifest.PluginID != id {
			errs = append(errs, fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID))
		}
		if len(manifest.Services) == 0 {
			errs = append(errs, fmt.Errorf("plugin %s declares no gRPC services", id))
		}
		errs = append(errs, validateDashboards(id, plugin.Dashboards())...)
	}
	return errors.Join(errs...)
}

func validateDashboards(id string, dashboards []Dashboard) []error {
	var errs []error
	names := make(map[string]bool)
	for _, dash := range dashboards {
		switch {
		case !dashboardNamePattern.MatchString(dash.Name):
			errs = append(errs, fmt.Errorf("plugin %s: dashboard name %q does not match %s", id, dash.Name, dashboardNamePattern))
		case names[dash.Name]:
			errs = append(errs, fmt.Errorf("plugin %s: duplicate dashboard %s", id, dash.Name))
		case !json.Valid(dash.JSON):
			errs = append(errs, fmt.Errorf("plugin %s: dashboard %s is not valid JSON", id, dash.Name))
		}
		names[dash.Name] = true
	}
	return errs
}
