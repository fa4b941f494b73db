package tools

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ToolManifest declares which tools are active for a deployment and their
// per-tool operational limits, loaded from a tools.yaml file the way
// gpt-oss-executor's ToolsConfig declares its own enabled-tool set.
type ToolManifest struct {
	Enabled []string     `yaml:"enabled"`
	OS      OSToolConfig `yaml:"os"`
}

// OSToolConfig holds the tunables for the os_control tool.
type OSToolConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DefaultToolManifest enables the os_control tool with a conservative
// timeout, matching the rest of this package's fail-open defaults.
func DefaultToolManifest() *ToolManifest {
	return &ToolManifest{
		Enabled: []string{"os"},
		OS:      OSToolConfig{TimeoutSeconds: 30},
	}
}

// LoadToolManifest reads path, falling back to DefaultToolManifest when the
// file is missing or malformed rather than failing startup over optional
// tool configuration.
func LoadToolManifest(path string) *ToolManifest {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultToolManifest()
	}

	m := DefaultToolManifest()
	if err := yaml.Unmarshal(data, m); err != nil {
		return DefaultToolManifest()
	}
	return m
}

// IsEnabled reports whether name appears in the manifest's Enabled list.
func (m *ToolManifest) IsEnabled(name string) bool {
	for _, n := range m.Enabled {
		if n == name {
			return true
		}
	}
	return false
}
