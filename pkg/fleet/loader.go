package fleet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// File is the on-disk fleet description: the provider inventory plus an
// optional scheduled scenario.
type File struct {
	Providers []contracts.Provider `yaml:"providers"`
	Scenario  []Event              `yaml:"scenario,omitempty"`
}

// LoadFile reads and validates a fleet YAML file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fleet file %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(f.Providers))
	for i := range f.Providers {
		p := &f.Providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("%w: provider %d has no id", contracts.ErrInvalidInput, i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate provider id %q", contracts.ErrInvalidInput, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	for i, ev := range f.Scenario {
		if ev.Provider == "" {
			return nil, fmt.Errorf("%w: scenario event %d has no provider", contracts.ErrInvalidInput, i)
		}
		if _, known := seen[ev.Provider]; !known {
			return nil, fmt.Errorf("%w: scenario event %d names unknown provider %q", contracts.ErrInvalidInput, i, ev.Provider)
		}
	}
	return &f, nil
}

// Populate registers every provider from the file into the registry.
func (f *File) Populate(reg *Registry) error {
	for _, p := range f.Providers {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
