package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDefinition reads a single flow definition from a YAML file.
func LoadDefinition(path string) (*FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading flow file %s: %w", path, err)
	}

	var def FlowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("error unmarshalling flow file %s: %w", path, err)
	}
	return &def, nil
}

// LoadDefinitions reads every *.yaml flow definition in a directory.
func LoadDefinitions(dir string) ([]*FlowDefinition, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading flows directory: %w", err)
	}

	defs := make([]*FlowDefinition, 0, len(files))
	for _, file := range files {
		def, err := LoadDefinition(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
