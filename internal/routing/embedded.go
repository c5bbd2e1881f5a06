package routing

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var embeddedFiles embed.FS

// tableFile mirrors the YAML layout of a routing table file
type tableFile struct {
	Tiers map[string]ModelTier `yaml:"tiers"`
	Tasks map[TaskType]Route   `yaml:"tasks"`
}

// LoadBuiltinTable loads and validates the embedded default routing table
func LoadBuiltinTable() (*Table, error) {
	data, err := embeddedFiles.ReadFile("routes.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded routing table: %w", err)
	}
	return parseTable(data)
}

// LoadTableFile loads and validates a routing table from an external YAML
// file, for deployments that override the built-in tiers or quotas.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing table %s: %w", path, err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse routing table: %w", err)
	}

	// Tier names live in the map keys; copy them onto the structs
	for name, tier := range file.Tiers {
		tier.Name = name
		file.Tiers[name] = tier
	}

	return NewTable(file.Tiers, file.Tasks)
}
