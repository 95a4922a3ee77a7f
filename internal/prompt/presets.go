package prompt

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFiles embed.FS

// Preset is a named system-prompt template, authored as a YAML document so
// operators can add or tune presets without a code change.
type Preset struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	StrategySection string `yaml:"strategy_section"`
	SizingRules     string `yaml:"sizing_rules"`
	RiskRules       string `yaml:"risk_rules"`
	ExitRules       string `yaml:"exit_rules"`
}

var presets = loadPresets()

func loadPresets() map[string]Preset {
	entries, err := presetFiles.ReadDir("presets")
	if err != nil {
		panic(fmt.Sprintf("prompt: read embedded presets: %v", err))
	}

	out := make(map[string]Preset, len(entries))
	for _, entry := range entries {
		data, err := presetFiles.ReadFile("presets/" + entry.Name())
		if err != nil {
			panic(fmt.Sprintf("prompt: read preset %s: %v", entry.Name(), err))
		}
		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			panic(fmt.Sprintf("prompt: parse preset %s: %v", entry.Name(), err))
		}
		out[p.Name] = p
	}
	return out
}

// ErrUnknownPreset is returned when a preset name has no matching document.
type ErrUnknownPreset struct{ Name string }

func (e *ErrUnknownPreset) Error() string { return fmt.Sprintf("prompt: unknown preset %q", e.Name) }

// GetPreset looks up a preset by name.
func GetPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, &ErrUnknownPreset{Name: name}
	}
	return p, nil
}

// ListPresetNames returns every preset name, sorted.
func ListPresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
