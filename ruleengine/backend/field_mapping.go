package backend

import (
	"errors"
	"io"
	"maps"
	"slices"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
)

// FieldMapping renames Sigma field names to the names used by the target
// index. The zero value maps nothing.
type FieldMapping struct {
	names map[string]string
}

func NewFieldMapping() FieldMapping {
	return FieldMapping{names: make(map[string]string)}
}

// AddMapping renames sigmaField to indexField, replacing an earlier entry.
func (fm *FieldMapping) AddMapping(sigmaField, indexField string) {
	if fm.names == nil {
		fm.names = make(map[string]string)
	}
	fm.names[sigmaField] = indexField
}

// NormalizeField returns the index name of field, or field when unmapped.
func (fm FieldMapping) NormalizeField(field string) string {
	if v, ok := fm.names[field]; ok {
		return v
	}
	return field
}

// Mappings returns a copy of the mapping table.
func (fm FieldMapping) Mappings() map[string]string {
	if fm.names == nil {
		return map[string]string{}
	}
	return maps.Clone(fm.names)
}

// LoadFieldMapping reads a YAML mapping file of the form
//
//	mappings:
//	  CommandLine: process.command_line
//
// Unknown top-level keys and empty target names fail with ErrFieldMapping.
// An empty file yields an empty mapping.
func LoadFieldMapping(r io.Reader) (FieldMapping, error) {
	var doc struct {
		Mappings map[string]string `yaml:"mappings"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return FieldMapping{}, ruleengine.NewError(ruleengine.ErrFieldMapping, "decode field mapping: %v", err)
	}

	fm := NewFieldMapping()
	var empty []string
	for sigma, index := range doc.Mappings {
		index = strings.TrimSpace(index)
		if index == "" {
			empty = append(empty, sigma)
			continue
		}
		fm.AddMapping(sigma, index)
	}
	if len(empty) > 0 {
		slices.Sort(empty)
		return FieldMapping{}, ruleengine.NewError(ruleengine.ErrFieldMapping,
			"empty target for %s", strings.Join(empty, ", "))
	}
	return fm, nil
}
