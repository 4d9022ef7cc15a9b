package declarative

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"smartbi/internal/domain"
)

// LoadCatalogFile reads, validates and compiles a catalog file.
func LoadCatalogFile(path string) (*domain.Catalog, error) {
	doc, err := LoadDocumentFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := BuildCatalog(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// LoadDocumentFile reads and strictly decodes a catalog file.
func LoadDocumentFile(path string) (*CatalogDocument, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified catalog files
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// ParseCatalog decodes, validates and compiles catalog YAML.
func ParseCatalog(data []byte) (*domain.Catalog, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return BuildCatalog(doc)
}

// ParseDocument decodes catalog YAML, rejecting unknown keys.
func ParseDocument(data []byte) (*CatalogDocument, error) {
	var doc CatalogDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("catalog document is empty")
		}
		return nil, err
	}
	return &doc, nil
}

// BuildCatalog validates doc and converts it into an immutable catalog.
func BuildCatalog(doc *CatalogDocument) (*domain.Catalog, error) {
	if errs := Validate(doc); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, domain.ErrValidation("invalid catalog:\n  %s", strings.Join(msgs, "\n  "))
	}
	def, err := toDefinition(doc)
	if err != nil {
		return nil, err
	}
	return domain.NewCatalog(def)
}

func toDefinition(doc *CatalogDocument) (domain.CatalogDefinition, error) {
	layer := doc.SemanticLayer
	def := domain.CatalogDefinition{
		Governance: domain.Governance{
			RequireTimeFilter: layer.Governance.DefaultQueryLimits.RequireTimeFilter,
			MaxRows:           layer.Governance.DefaultQueryLimits.MaxRows,
			TimeoutSeconds:    layer.Governance.DefaultQueryLimits.TimeoutSeconds,
		},
	}

	calendars := map[string]bool{}
	for _, es := range layer.Entities {
		kind, err := entityKind(es)
		if err != nil {
			return def, err
		}
		if kind == domain.EntityKindCalendar {
			calendars[es.Name] = true
		}
		def.Entities = append(def.Entities, domain.Entity{
			Name:            es.Name,
			Table:           es.Table,
			Kind:            kind,
			Description:     es.Description,
			Fields:          toFields(es.Fields),
			SensitiveFields: toFields(es.SensitiveFields),
		})
	}

	for _, ds := range layer.Datasets {
		d := domain.Dataset{
			Name:           ds.Name,
			From:           ds.From,
			Description:    ds.Description,
			Dimensions:     toDimensions(ds.Dimensions),
			TimeDimensions: toDimensions(ds.TimeDimensions),
		}
		for _, ms := range ds.Metrics {
			agg, err := domain.ParseAggKind(ms.Type)
			if err != nil {
				return def, fmt.Errorf("dataset %q metric %q: %w", ds.Name, ms.Name, err)
			}
			d.Metrics = append(d.Metrics, domain.Metric{
				Name:        ms.Name,
				Expr:        ms.Expr,
				Agg:         agg,
				Synonyms:    ms.Synonyms,
				Description: ms.Description,
			})
		}
		joinsCalendar := false
		for _, js := range ds.Joins {
			d.Joins = append(d.Joins, domain.Join{Entity: js.Entity, On: strings.TrimSpace(js.On)})
			joinsCalendar = joinsCalendar || calendars[js.Entity]
		}
		// Unset means fill gaps whenever the dataset joins a calendar.
		if ds.FillGapsWithCalendar != nil {
			d.FillGapsWithCalendar = *ds.FillGapsWithCalendar
		} else {
			d.FillGapsWithCalendar = joinsCalendar
		}
		def.Datasets = append(def.Datasets, d)
	}
	return def, nil
}

// entityKind reads the declared kind. An entity named "calendar" without a
// kind is treated as a calendar for older catalog files.
func entityKind(es EntitySpec) (domain.EntityKind, error) {
	if strings.TrimSpace(es.Kind) == "" && es.Name == "calendar" {
		return domain.EntityKindCalendar, nil
	}
	kind, err := domain.ParseEntityKind(es.Kind)
	if err != nil {
		return "", fmt.Errorf("entity %q: %w", es.Name, err)
	}
	return kind, nil
}

func toFields(specs []FieldSpec) []domain.Field {
	out := make([]domain.Field, 0, len(specs))
	for _, f := range specs {
		out = append(out, domain.Field{
			Name:        f.Name,
			Expr:        f.Expr,
			Synonyms:    f.Synonyms,
			Description: f.Description,
		})
	}
	return out
}

func toDimensions(specs []DimensionSpec) []domain.Dimension {
	out := make([]domain.Dimension, 0, len(specs))
	for _, d := range specs {
		out = append(out, domain.Dimension{
			Name:        d.Name,
			Expr:        d.Expr,
			Grain:       d.Grain,
			Synonyms:    d.Synonyms,
			Description: d.Description,
		})
	}
	return out
}
