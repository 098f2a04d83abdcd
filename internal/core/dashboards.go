package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// DashboardsMap materializes dashboard content to URL paths.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, plugin := range plugins {
		manifest := plugin.Manifest()
		for _, dash := range plugin.Dashboards() {
			result[dashboardPath(manifest.PluginID, dash.Name)] = dash.JSON
		}
	}
	return result
}

func dashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

// WriteDashboards writes dashboards to disk for Grafana provisioning.
// Files are replaced by rename so Grafana never reads a partial dashboard,
// and files whose content is unchanged are left alone.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}

	for _, plugin := range plugins {
		pluginDir := filepath.Join(dir, plugin.Manifest().PluginID)
		if err := os.MkdirAll(pluginDir, 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		for _, dash := range plugin.Dashboards() {
			path := filepath.Join(pluginDir, dash.Name+".json")
			if err := replaceFile(path, dash.JSON); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}

	return nil
}

func replaceFile(path string, data []byte) error {
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
