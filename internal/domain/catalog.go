package domain

import (
	"slices"
	"strings"
)

// CatalogDefinition is the parsed, unindexed shape of a semantic catalog as
// produced by a loader.
type CatalogDefinition struct {
	Entities   []Entity
	Datasets   []Dataset
	Governance Governance
}

// ResolvedMetric is a metric looked up by canonical name.
type ResolvedMetric struct {
	CanonicalName string
	Dataset       string
	Metric        Metric
}

// ResolvedDimension is a dimension, time dimension or entity field looked up
// by canonical name.
type ResolvedDimension struct {
	CanonicalName string
	Owner         string
	Name          string
	Expr          string
	Grain         string
	ObjectType    ObjectType
}

// Catalog is an immutable, indexed snapshot of the semantic layer. It is
// built once by NewCatalog and is safe for concurrent use; callers must not
// modify slices returned by its accessors.
type Catalog struct {
	entities   []Entity
	datasets   []Dataset
	governance Governance

	entityIdx  map[string]int
	datasetIdx map[string]int

	metrics    map[string]ResolvedMetric
	dimensions map[string]ResolvedDimension
	sensitive  map[string]ResolvedDimension
	joins      map[string][]string
}

// NewCatalog validates a definition and builds its canonical-name indices.
func NewCatalog(def CatalogDefinition) (*Catalog, error) {
	c := &Catalog{
		entities:   cloneEntities(def.Entities),
		datasets:   cloneDatasets(def.Datasets),
		governance: def.Governance,
		entityIdx:  make(map[string]int, len(def.Entities)),
		datasetIdx: make(map[string]int, len(def.Datasets)),
		metrics:    make(map[string]ResolvedMetric),
		dimensions: make(map[string]ResolvedDimension),
		sensitive:  make(map[string]ResolvedDimension),
		joins:      make(map[string][]string, len(def.Datasets)),
	}
	if c.governance.MaxRows < 0 {
		return nil, ErrValidation("governance max_rows must be >= 0")
	}
	if c.governance.TimeoutSeconds < 0 {
		return nil, ErrValidation("governance timeout_seconds must be >= 0")
	}

	for i, e := range c.entities {
		if err := validateOwnerName("entity", e.Name); err != nil {
			return nil, err
		}
		if _, dup := c.entityIdx[e.Name]; dup {
			return nil, ErrValidation("duplicate entity %q", e.Name)
		}
		if e.Kind == "" {
			c.entities[i].Kind = EntityKindStandard
		}
		c.entityIdx[e.Name] = i
	}
	for i, ds := range c.datasets {
		if err := validateOwnerName("dataset", ds.Name); err != nil {
			return nil, err
		}
		if _, dup := c.datasetIdx[ds.Name]; dup {
			return nil, ErrValidation("duplicate dataset %q", ds.Name)
		}
		if _, clash := c.entityIdx[ds.Name]; clash {
			return nil, ErrValidation("dataset %q collides with an entity of the same name", ds.Name)
		}
		c.datasetIdx[ds.Name] = i
	}

	for _, e := range c.entities {
		for _, f := range e.Fields {
			if err := c.addDimension(e.Name, f.Name, f.Expr, "", ObjectField); err != nil {
				return nil, err
			}
		}
		for _, f := range e.SensitiveFields {
			if err := validateMemberName(e.Name, f.Name); err != nil {
				return nil, err
			}
			cn := CanonicalName(e.Name, f.Name)
			if _, dup := c.dimensions[cn]; dup {
				return nil, ErrValidation("%s is declared both as a field and a sensitive field", cn)
			}
			c.sensitive[cn] = ResolvedDimension{
				CanonicalName: cn, Owner: e.Name, Name: f.Name, Expr: f.Expr, ObjectType: ObjectSensitiveField,
			}
		}
	}

	for _, ds := range c.datasets {
		for _, m := range ds.Metrics {
			if err := validateMemberName(ds.Name, m.Name); err != nil {
				return nil, err
			}
			cn := CanonicalName(ds.Name, m.Name)
			if _, dup := c.metrics[cn]; dup {
				return nil, ErrValidation("duplicate metric %s", cn)
			}
			if m.Agg == "" {
				m.Agg = AggNone
			}
			c.metrics[cn] = ResolvedMetric{CanonicalName: cn, Dataset: ds.Name, Metric: m}
		}
		// A dataset may expose the same column as both a dimension and a
		// time dimension; the time dimension entry wins.
		for _, td := range ds.TimeDimensions {
			if err := c.addDimension(ds.Name, td.Name, td.Expr, td.Grain, ObjectTimeDimension); err != nil {
				return nil, err
			}
		}
		for _, d := range ds.Dimensions {
			cn := CanonicalName(ds.Name, d.Name)
			if prev, ok := c.dimensions[cn]; ok && prev.ObjectType == ObjectTimeDimension {
				continue
			}
			if err := c.addDimension(ds.Name, d.Name, d.Expr, d.Grain, ObjectDimension); err != nil {
				return nil, err
			}
		}
		for cn := range c.metrics {
			if _, clash := c.dimensions[cn]; clash {
				return nil, ErrValidation("%s is declared both as a metric and a dimension", cn)
			}
		}

		seen := make(map[string]bool, len(ds.Joins))
		for _, j := range ds.Joins {
			if _, ok := c.entityIdx[j.Entity]; !ok {
				return nil, ErrValidation("dataset %q joins unknown entity %q", ds.Name, j.Entity)
			}
			if strings.TrimSpace(j.On) == "" {
				return nil, ErrValidation("dataset %q join to %q has no on clause", ds.Name, j.Entity)
			}
			if seen[j.Entity] {
				continue
			}
			seen[j.Entity] = true
			c.joins[ds.Name] = append(c.joins[ds.Name], j.Entity)
		}
	}
	return c, nil
}

func (c *Catalog) addDimension(owner, name, expr, grain string, typ ObjectType) error {
	if err := validateMemberName(owner, name); err != nil {
		return err
	}
	cn := CanonicalName(owner, name)
	if _, dup := c.dimensions[cn]; dup {
		return ErrValidation("duplicate %s %s", typ, cn)
	}
	c.dimensions[cn] = ResolvedDimension{
		CanonicalName: cn, Owner: owner, Name: name, Expr: expr, Grain: grain, ObjectType: typ,
	}
	return nil
}

func validateOwnerName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrValidation("%s name is required", kind)
	}
	if strings.Contains(name, ".") {
		return ErrValidation("%s name %q must not contain '.'", kind, name)
	}
	return nil
}

func validateMemberName(owner, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrValidation("%s has a member with an empty name", owner)
	}
	if strings.Contains(name, ".") {
		return ErrValidation("%s member %q must not contain '.'", owner, name)
	}
	return nil
}

// Governance returns the catalog's query limits.
func (c *Catalog) Governance() Governance { return c.governance }

// Entities returns entities in declaration order.
func (c *Catalog) Entities() []Entity { return c.entities }

// Datasets returns datasets in declaration order.
func (c *Catalog) Datasets() []Dataset { return c.datasets }

// Entity looks up an entity by name.
func (c *Catalog) Entity(name string) (Entity, bool) {
	i, ok := c.entityIdx[name]
	if !ok {
		return Entity{}, false
	}
	return c.entities[i], true
}

// Dataset looks up a dataset by name.
func (c *Catalog) Dataset(name string) (Dataset, bool) {
	i, ok := c.datasetIdx[name]
	if !ok {
		return Dataset{}, false
	}
	return c.datasets[i], true
}

// IsEntity reports whether name is a declared entity.
func (c *Catalog) IsEntity(name string) bool {
	_, ok := c.entityIdx[name]
	return ok
}

// IsDataset reports whether name is a declared dataset.
func (c *Catalog) IsDataset(name string) bool {
	_, ok := c.datasetIdx[name]
	return ok
}

// Metric resolves a canonical metric name.
func (c *Catalog) Metric(canonical string) (ResolvedMetric, bool) {
	m, ok := c.metrics[canonical]
	return m, ok
}

// Dimension resolves a canonical dimension, time dimension or entity field.
// Sensitive fields never resolve.
func (c *Catalog) Dimension(canonical string) (ResolvedDimension, bool) {
	d, ok := c.dimensions[canonical]
	return d, ok
}

// SensitiveField resolves a canonical sensitive field.
func (c *Catalog) SensitiveField(canonical string) (ResolvedDimension, bool) {
	d, ok := c.sensitive[canonical]
	return d, ok
}

// IsValidMetric reports whether canonical names a metric.
func (c *Catalog) IsValidMetric(canonical string) bool {
	_, ok := c.metrics[canonical]
	return ok
}

// IsValidDimension reports whether canonical names a dimension, time
// dimension or non-sensitive entity field.
func (c *Catalog) IsValidDimension(canonical string) bool {
	_, ok := c.dimensions[canonical]
	return ok
}

// JoinedEntities returns the entities a dataset joins directly, in join order.
func (c *Catalog) JoinedEntities(dataset string) []string {
	return c.joins[dataset]
}

// JoinsEntity reports whether dataset has a direct join to entity.
func (c *Catalog) JoinsEntity(dataset, entity string) bool {
	return slices.Contains(c.joins[dataset], entity)
}

// PrimaryTimeDimension returns the first declared time dimension of a dataset.
func (c *Catalog) PrimaryTimeDimension(dataset string) (ResolvedDimension, bool) {
	ds, ok := c.Dataset(dataset)
	if !ok || len(ds.TimeDimensions) == 0 {
		return ResolvedDimension{}, false
	}
	return c.Dimension(CanonicalName(dataset, ds.TimeDimensions[0].Name))
}

// CalendarJoin returns the first join of dataset whose entity is a calendar.
func (c *Catalog) CalendarJoin(dataset string) (Join, Entity, bool) {
	ds, ok := c.Dataset(dataset)
	if !ok {
		return Join{}, Entity{}, false
	}
	for _, j := range ds.Joins {
		e, ok := c.Entity(j.Entity)
		if ok && e.Kind == EntityKindCalendar {
			return j, e, true
		}
	}
	return Join{}, Entity{}, false
}

func cloneEntities(in []Entity) []Entity {
	out := make([]Entity, len(in))
	for i, e := range in {
		e.Fields = cloneFields(e.Fields)
		e.SensitiveFields = cloneFields(e.SensitiveFields)
		out[i] = e
	}
	return out
}

func cloneFields(in []Field) []Field {
	out := slices.Clone(in)
	for i := range out {
		out[i].Synonyms = slices.Clone(out[i].Synonyms)
	}
	return out
}

func cloneDatasets(in []Dataset) []Dataset {
	out := make([]Dataset, len(in))
	for i, ds := range in {
		ds.Metrics = slices.Clone(ds.Metrics)
		for j := range ds.Metrics {
			ds.Metrics[j].Synonyms = slices.Clone(ds.Metrics[j].Synonyms)
		}
		ds.Dimensions = cloneDimensions(ds.Dimensions)
		ds.TimeDimensions = cloneDimensions(ds.TimeDimensions)
		ds.Joins = slices.Clone(ds.Joins)
		out[i] = ds
	}
	return out
}

func cloneDimensions(in []Dimension) []Dimension {
	out := slices.Clone(in)
	for i := range out {
		out[i].Synonyms = slices.Clone(out[i].Synonyms)
	}
	return out
}
