package declarative

import (
	"fmt"
	"strings"

	"smartbi/internal/domain"
)

// ValidationError represents a single validation problem.
type ValidationError struct {
	Path    string // e.g. "datasets.sales.metrics[revenue]"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Valid dimension grains.
var validGrains = map[string]bool{
	"":      true,
	"day":   true,
	"week":  true,
	"month": true,
	"year":  true,
}

// Validate checks a decoded document and returns every problem found, in
// document order.
func Validate(doc *CatalogDocument) []ValidationError {
	var errs []ValidationError
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	if doc == nil {
		add("", "document is nil")
		return errs
	}
	layer := doc.SemanticLayer
	if len(layer.Entities) == 0 && len(layer.Datasets) == 0 {
		add("semantic_layer", "must declare at least one entity or dataset")
	}

	entities := map[string]bool{}
	for _, e := range layer.Entities {
		path := "entities." + e.Name
		validateName(path, e.Name, add)
		if entities[e.Name] {
			add(path, "duplicate entity name")
		}
		entities[e.Name] = true
		if strings.TrimSpace(e.Table) == "" {
			add(path, "table is required")
		}
		if _, err := domain.ParseEntityKind(e.Kind); err != nil {
			add(path, "%s", err.Error())
		}

		names := map[string]bool{}
		for _, f := range e.Fields {
			validateField(path+".fields", f, names, add)
		}
		for _, f := range e.SensitiveFields {
			fp := fmt.Sprintf("%s.sensitive_fields[%s]", path, f.Name)
			validateField(path+".sensitive_fields", f, names, add)
			if f.Allowed != nil && *f.Allowed {
				add(fp, "sensitive fields cannot be allowed; declare it under fields instead")
			}
		}
	}

	datasets := map[string]bool{}
	for _, d := range layer.Datasets {
		path := "datasets." + d.Name
		validateName(path, d.Name, add)
		if datasets[d.Name] {
			add(path, "duplicate dataset name")
		}
		if entities[d.Name] {
			add(path, "dataset name collides with an entity")
		}
		datasets[d.Name] = true
		if strings.TrimSpace(d.From) == "" {
			add(path, "from is required")
		}

		metrics := map[string]bool{}
		for _, m := range d.Metrics {
			mp := fmt.Sprintf("%s.metrics[%s]", path, m.Name)
			validateName(mp, m.Name, add)
			if metrics[m.Name] {
				add(mp, "duplicate metric name")
			}
			metrics[m.Name] = true
			if strings.TrimSpace(m.Expr) == "" {
				add(mp, "expr is required")
			}
			if _, err := domain.ParseAggKind(m.Type); err != nil {
				add(mp, "%s", err.Error())
			}
		}

		dims := map[string]bool{}
		for _, dim := range d.Dimensions {
			dp := fmt.Sprintf("%s.dimensions[%s]", path, dim.Name)
			validateDimension(dp, dim, add)
			if dims[dim.Name] {
				add(dp, "duplicate dimension name")
			}
			if metrics[dim.Name] {
				add(dp, "name is already used by a metric")
			}
			dims[dim.Name] = true
		}
		timeDims := map[string]bool{}
		for _, td := range d.TimeDimensions {
			tp := fmt.Sprintf("%s.time_dimensions[%s]", path, td.Name)
			validateDimension(tp, td, add)
			if timeDims[td.Name] {
				add(tp, "duplicate time dimension name")
			}
			if metrics[td.Name] {
				add(tp, "name is already used by a metric")
			}
			timeDims[td.Name] = true
		}

		for i, j := range d.Joins {
			jp := fmt.Sprintf("%s.joins[%d]", path, i)
			switch {
			case strings.TrimSpace(j.Entity) == "":
				add(jp, "entity is required")
			case !entities[j.Entity]:
				add(jp, "unknown entity %q", j.Entity)
			}
			if strings.TrimSpace(j.On) == "" {
				add(jp, "on is required")
			}
		}
	}

	limits := layer.Governance.DefaultQueryLimits
	if limits.MaxRows < 0 {
		add("governance.default_query_limits.max_rows", "must be non-negative")
	}
	if limits.TimeoutSeconds < 0 {
		add("governance.default_query_limits.timeout_seconds", "must be non-negative")
	}
	return errs
}

func validateName(path, name string, add func(string, string, ...any)) {
	switch {
	case strings.TrimSpace(name) == "":
		add(path, "name is required")
	case strings.Contains(name, "."):
		add(path, "name %q must not contain '.'", name)
	}
}

func validateField(path string, f FieldSpec, seen map[string]bool, add func(string, string, ...any)) {
	fp := fmt.Sprintf("%s[%s]", path, f.Name)
	validateName(fp, f.Name, add)
	if seen[f.Name] {
		add(fp, "duplicate field name")
	}
	seen[f.Name] = true
	if strings.TrimSpace(f.Expr) == "" {
		add(fp, "expr is required")
	}
}

func validateDimension(path string, d DimensionSpec, add func(string, string, ...any)) {
	validateName(path, d.Name, add)
	if strings.TrimSpace(d.Expr) == "" {
		add(path, "expr is required")
	}
	if !validGrains[strings.ToLower(strings.TrimSpace(d.Grain))] {
		add(path, "unsupported grain %q", d.Grain)
	}
}
