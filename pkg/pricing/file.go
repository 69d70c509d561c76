package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a pricing file.
//
// Example:
//
//	entries:
//	  - provider: openai
//	    model: gpt-4o
//	    effective_from: 2026-01-01T00:00:00Z
//	    tiers:
//	      - up_to: 128000
//	        input_per_million: 1.25
//	        output_per_million: 5.00
//	      - up_to: 0
//	        input_per_million: 2.50
//	        output_per_million: 10.00
type File struct {
	Entries []Entry `yaml:"entries"`
}

// LoadFile parses a pricing YAML file into entries, validating each one.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file %q: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file %q: %w", path, err)
	}

	for i := range f.Entries {
		if err := f.Entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("pricing file %q: %w", path, err)
		}
	}
	return f.Entries, nil
}

// LoadTable loads a pricing file into a fresh table.
func LoadTable(path string) (*Table, error) {
	entries, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	t := NewTable()
	if _, err := t.Update(entries...); err != nil {
		return nil, err
	}
	return t, nil
}
