// Package selftest loads the end-to-end scenario fixtures from spec
// §8; its test runs each through the orchestrator against fake
// compiler and module doubles, so the documented exit-code/argv
// behavior is checked without a real C toolchain. Grounded on the teacher's YAML
// config loader (pkg/config.LoadConfigFromReader): decode into a Go
// struct, apply as input to the thing under test.
package selftest

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var scenariosYAML []byte

// Scenario is one row of the spec §8 end-to-end table.
type Scenario struct {
	Name         string   `yaml:"name"`
	Source       string   `yaml:"source"`
	Argv         []string `yaml:"argv"`
	ForceCompile bool     `yaml:"force_compile"`
	DefaultFlags string   `yaml:"default_flags"`
	ExitCode     int      `yaml:"exit_code"`
}

// Load parses the embedded scenario fixtures.
func Load() ([]Scenario, error) {
	var scenarios []Scenario
	if err := yaml.Unmarshal(scenariosYAML, &scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}
