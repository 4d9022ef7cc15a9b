package domain

import (
	"strings"
)

// AggKind is the aggregation applied to a metric expression at compile time.
type AggKind string

const (
	AggSum           AggKind = "sum"
	AggAvg           AggKind = "avg"
	AggCount         AggKind = "count"
	AggCountDistinct AggKind = "count_distinct"
	AggNone          AggKind = "none"
)

// ParseAggKind maps a catalog aggregation string to an AggKind. An empty
// string means the expression is already aggregated (AggNone).
func ParseAggKind(s string) (AggKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return AggSum, nil
	case "avg", "average":
		return AggAvg, nil
	case "count":
		return AggCount, nil
	case "count_distinct", "countdistinct":
		return AggCountDistinct, nil
	case "", "none":
		return AggNone, nil
	default:
		return "", ErrValidation("unsupported aggregation %q: must be sum, avg, count, count_distinct or none", s)
	}
}

// Aggregates reports whether the kind wraps its expression in an aggregate function.
func (k AggKind) Aggregates() bool {
	return k == AggSum || k == AggAvg || k == AggCount || k == AggCountDistinct
}

// EntityKind classifies an entity. Calendar entities can drive gap-free
// time series compilation.
type EntityKind string

const (
	EntityKindStandard EntityKind = "standard"
	EntityKindCalendar EntityKind = "calendar"
)

// ParseEntityKind maps a catalog entity kind string to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return EntityKindStandard, nil
	case "calendar":
		return EntityKindCalendar, nil
	default:
		return "", ErrValidation("unsupported entity kind %q: must be standard or calendar", s)
	}
}

// Field is a column exposed by an entity.
type Field struct {
	Name        string
	Expr        string
	Synonyms    []string
	Description string
}

// Entity is a joinable dimension table.
type Entity struct {
	Name            string
	Table           string
	Kind            EntityKind
	Description     string
	Fields          []Field
	SensitiveFields []Field
}

// Metric is a measure defined on a dataset.
type Metric struct {
	Name        string
	Expr        string
	Agg         AggKind
	Synonyms    []string
	Description string
}

// Dimension is a groupable attribute of a dataset. Grain is only meaningful
// for time dimensions ("day", "month", "year").
type Dimension struct {
	Name        string
	Expr        string
	Grain       string
	Synonyms    []string
	Description string
}

// Join links a dataset to an entity.
type Join struct {
	Entity string
	On     string
}

// Dataset is a fact relation with its metrics, dimensions and joins.
type Dataset struct {
	Name           string
	From           string
	Description    string
	Metrics        []Metric
	Dimensions     []Dimension
	TimeDimensions []Dimension
	Joins          []Join

	// FillGapsWithCalendar drives row generation from the joined calendar
	// entity when the dataset is grouped by its own time dimension.
	FillGapsWithCalendar bool
}

// Governance holds tenant-level query limits.
type Governance struct {
	RequireTimeFilter bool `json:"require_time_filter"`
	MaxRows           int  `json:"max_rows"`
	TimeoutSeconds    int  `json:"timeout_seconds"`
}

// CanonicalName joins an owner (dataset or entity) and a member name.
func CanonicalName(owner, name string) string {
	return owner + "." + name
}

// SplitCanonical splits "<owner>.<name>". ok is false when there is no dot
// or either side is empty.
func SplitCanonical(canonical string) (owner, name string, ok bool) {
	owner, name, found := strings.Cut(strings.TrimSpace(canonical), ".")
	if !found || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// OwnerOf returns the owner prefix of a canonical name, or "" if it has none.
func OwnerOf(canonical string) string {
	owner, _, _ := SplitCanonical(canonical)
	return owner
}
