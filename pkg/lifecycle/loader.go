package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Tables []Table `yaml:"tables"`
}

// ParseTables decodes a YAML document with a top-level "tables" list.
func ParseTables(data []byte) ([]Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("no tables declared")
	}
	return f.Tables, nil
}

// LoadTables reads transition tables from a YAML file.
func LoadTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transition tables %q: %w", path, err)
	}
	tables, err := ParseTables(data)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return tables, nil
}

// LoadRegistry builds the process registry: the default tables, with any
// kind declared in the file at path replacing its default. An empty path
// yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	tables, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	if path != "" {
		overrides, err := LoadTables(path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, overrides...)
	}
	return NewRegistry(tables...)
}
