// Package declarative loads the semantic catalog from a YAML document.
package declarative

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogDocument is the root of a semantic catalog file.
type CatalogDocument struct {
	SemanticLayer SemanticLayerSpec `yaml:"semantic_layer"`
}

// SemanticLayerSpec declares entities, datasets and governance limits.
// Entities and datasets are YAML mappings keyed by name; document order is
// preserved.
type SemanticLayerSpec struct {
	Version     string         `yaml:"version,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Entities    EntityList     `yaml:"entities"`
	Datasets    DatasetList    `yaml:"datasets"`
	Governance  GovernanceSpec `yaml:"governance"`
}

// EntitySpec describes a dimension entity such as a branch or a calendar.
type EntitySpec struct {
	Name            string      `yaml:"-"`
	Table           string      `yaml:"table"`
	Kind            string      `yaml:"kind,omitempty"` // "standard" (default) or "calendar"
	Description     string      `yaml:"description,omitempty"`
	Fields          []FieldSpec `yaml:"fields,omitempty"`
	SensitiveFields []FieldSpec `yaml:"sensitive_fields,omitempty"`
}

// FieldSpec describes one entity column.
type FieldSpec struct {
	Name        string   `yaml:"name"`
	Expr        string   `yaml:"expr"`
	Type        string   `yaml:"type,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty"`
	Description string   `yaml:"description,omitempty"`
	// Allowed is only meaningful on sensitive fields, where it must be false.
	Allowed *bool `yaml:"allowed,omitempty"`
}

// DatasetSpec describes a fact source.
type DatasetSpec struct {
	Name                 string          `yaml:"-"`
	From                 string          `yaml:"from"`
	Description          string          `yaml:"description,omitempty"`
	Grain                string          `yaml:"grain,omitempty"`
	Metrics              []MetricSpec    `yaml:"metrics,omitempty"`
	Dimensions           []DimensionSpec `yaml:"dimensions,omitempty"`
	TimeDimensions       []DimensionSpec `yaml:"time_dimensions,omitempty"`
	Joins                []JoinSpec      `yaml:"joins,omitempty"`
	FillGapsWithCalendar *bool           `yaml:"fill_gaps_with_calendar,omitempty"`
}

// MetricSpec describes an aggregatable measure. Type is the aggregation.
type MetricSpec struct {
	Name        string   `yaml:"name"`
	Expr        string   `yaml:"expr"`
	Type        string   `yaml:"type,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// DimensionSpec describes a grouping column or a time column.
type DimensionSpec struct {
	Name        string   `yaml:"name"`
	Expr        string   `yaml:"expr"`
	Grain       string   `yaml:"grain,omitempty"`
	Synonyms    []string `yaml:"synonyms,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// JoinSpec links a dataset to an entity.
type JoinSpec struct {
	Entity string `yaml:"entity"`
	On     string `yaml:"on"`
}

// UnmarshalYAML accepts the `on` key even when YAML 1.1 tooling wrote it as
// the boolean `true`.
func (j *JoinSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: join must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var dst *string
		switch {
		case key.Value == "entity":
			dst = &j.Entity
		case key.Value == "on", key.Tag == "!!bool" && strings.EqualFold(key.Value, "true"):
			dst = &j.On
		default:
			return fmt.Errorf("line %d: field %s not found in type declarative.JoinSpec", key.Line, key.Value)
		}
		if err := val.Decode(dst); err != nil {
			return err
		}
	}
	return nil
}

// GovernanceSpec wraps the query limits applied to every plan.
type GovernanceSpec struct {
	DefaultQueryLimits QueryLimitsSpec `yaml:"default_query_limits"`
}

// QueryLimitsSpec holds the governance flags.
type QueryLimitsSpec struct {
	RequireTimeFilter bool `yaml:"require_time_filter"`
	MaxRows           int  `yaml:"max_rows,omitempty"`
	TimeoutSeconds    int  `yaml:"timeout_seconds,omitempty"`
}

// EntityList is a name-keyed mapping of entities in document order.
type EntityList []EntitySpec

// UnmarshalYAML decodes a mapping of name to entity.
func (l *EntityList) UnmarshalYAML(node *yaml.Node) error {
	return decodeNamed(node, "entities", func(name string, val *yaml.Node) error {
		var e EntitySpec
		if err := decodeStrict(val, &e); err != nil {
			return fmt.Errorf("entity %q: %w", name, err)
		}
		e.Name = name
		*l = append(*l, e)
		return nil
	})
}

// DatasetList is a name-keyed mapping of datasets in document order.
type DatasetList []DatasetSpec

// UnmarshalYAML decodes a mapping of name to dataset.
func (l *DatasetList) UnmarshalYAML(node *yaml.Node) error {
	return decodeNamed(node, "datasets", func(name string, val *yaml.Node) error {
		var d DatasetSpec
		if err := decodeStrict(val, &d); err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		d.Name = name
		*l = append(*l, d)
		return nil
	})
}

func decodeNamed(node *yaml.Node, what string, fn func(name string, val *yaml.Node) error) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping of name to definition", node.Line, what)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if err := fn(key.Value, val); err != nil {
			return err
		}
	}
	return nil
}

// decodeStrict decodes a sub-node rejecting unknown keys. Node.Decode does
// not inherit the parent decoder's KnownFields setting.
func decodeStrict(node *yaml.Node, out any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}
