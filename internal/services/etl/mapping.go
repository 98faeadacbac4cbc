package etl

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"DeskCast/pkg/util"
)

// DefaultCategory labels tickets whose category path is not mapped.
const DefaultCategory = "OTHER"

//go:embed categories.yaml
var defaultMappingYAML []byte

// DefaultMapping is the built-in taxonomy from GLPI category paths to forecast categories.
func DefaultMapping() map[string]string {
	m, err := ParseMapping(defaultMappingYAML)
	if err != nil {
		panic(fmt.Sprintf("etl: embedded category mapping: %v", err))
	}
	return m
}

// LoadMapping reads a YAML map of category path to label.
func LoadMapping(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category mapping: %w", err)
	}
	return ParseMapping(b)
}

// ParseMapping decodes a YAML map of category path to label. Keys are normalized.
func ParseMapping(b []byte) (map[string]string, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse category mapping: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[util.NormalizeKey(k)] = v
	}
	return out, nil
}

// CategoryMapper resolves raw category paths to forecast categories.
type CategoryMapper struct {
	mapping  map[string]string
	fallback string
}

// NewCategoryMapper uses DefaultMapping when mapping is nil and DefaultCategory when fallback is empty.
func NewCategoryMapper(mapping map[string]string, fallback string) *CategoryMapper {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	if fallback == "" {
		fallback = DefaultCategory
	}
	return &CategoryMapper{mapping: mapping, fallback: fallback}
}

// Map is tolerant to case and surrounding whitespace.
func (m *CategoryMapper) Map(path string) string {
	if v, ok := m.mapping[util.NormalizeKey(path)]; ok {
		return v
	}
	return m.fallback
}
