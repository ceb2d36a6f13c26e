package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PackFile is the YAML root of a pattern pack.
type PackFile struct {
	Patterns []Definition `yaml:"patterns"`
}

// LoadPack reads pattern definitions from a YAML file. An empty path yields no definitions;
// a configured path that cannot be read is an error.
func LoadPack(path string) ([]Definition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern pack %s: %w", path, err)
	}
	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse pattern pack %s: %w", path, err)
	}
	return pack.Patterns, nil
}

// Build merges the built-in patterns, the pattern pack at packPath and inline definitions
// (in that order of precedence, last wins) and compiles the result.
func Build(packPath string, inline []Definition) (*Set, error) {
	pack, err := LoadPack(packPath)
	if err != nil {
		return nil, err
	}
	defs := Merge(DefaultDefinitions(), pack)
	defs = Merge(defs, inline)
	return Compile(defs)
}
