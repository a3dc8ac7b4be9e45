package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig is a YAML-loadable set of relation descriptors, letting
// an embedder declare a schema in a config file instead of constructing
// RelationInfo values by hand in Go.
type EngineConfig struct {
	Relations []RelationSpec `yaml:"relations"`
}

// RelationSpec is the YAML shape of one relation descriptor.
type RelationSpec struct {
	Name      string      `yaml:"name"`
	Fields    []FieldSpec `yaml:"fields"`
	KeyColumn int         `yaml:"key_column"`
	DataPath  string      `yaml:"data_path"`
	IndexPath string      `yaml:"index_path"`
}

// FieldSpec is the YAML shape of one field descriptor.
type FieldSpec struct {
	Name   string `yaml:"name"`
	Length int    `yaml:"length"`
	Type   string `yaml:"type"`
}

// LoadEngineConfig reads and parses a YAML engine config from path.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read config %s: %w", path, err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("catalog: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// RelationInfo converts a RelationSpec into the RelationInfo the core
// consumes.
func (s RelationSpec) RelationInfo() *RelationInfo {
	fields := make([]FieldInfo, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = FieldInfo{Name: f.Name, Index: i, Length: f.Length, FieldType: f.Type}
	}
	return &RelationInfo{
		Name:      s.Name,
		Fields:    fields,
		KeyColumn: s.KeyColumn,
		DataPath:  s.DataPath,
		IndexPath: s.IndexPath,
	}
}

// Apply registers every relation in cfg with e, in file order. It stops
// and returns the first error encountered (e.g. a duplicate name or a
// validation failure), leaving any relations registered before that
// point in place.
func (cfg *EngineConfig) Apply(e *Engine) error {
	for _, spec := range cfg.Relations {
		if err := e.CreateTable(spec.RelationInfo()); err != nil {
			return err
		}
	}
	return nil
}
