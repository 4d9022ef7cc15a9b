package domain

import (
	"encoding/json"
	"strings"
)

// ObjectType is the kind of catalog object a candidate resolves to.
type ObjectType string

const (
	ObjectMetric         ObjectType = "metric"
	ObjectDimension      ObjectType = "dimension"
	ObjectField          ObjectType = "field"
	ObjectTimeDimension  ObjectType = "time_dimension"
	ObjectSensitiveField ObjectType = "sensitive_field"
)

// ParseObjectType rejects anything outside the closed set of object types.
func ParseObjectType(s string) (ObjectType, error) {
	switch ObjectType(strings.TrimSpace(s)) {
	case ObjectMetric, ObjectDimension, ObjectField, ObjectTimeDimension, ObjectSensitiveField:
		return ObjectType(strings.TrimSpace(s)), nil
	}
	return "", ErrValidation("unknown object type %q", s)
}

// IsDimensionLike reports whether the object can be grouped by.
func (t ObjectType) IsDimensionLike() bool {
	return t == ObjectDimension || t == ObjectField || t == ObjectTimeDimension
}

// MatchSource records how a candidate was found.
type MatchSource string

const (
	SourceExact             MatchSource = "exact"
	SourceEmbedding         MatchSource = "embedding"
	SourceEmbeddingReranker MatchSource = "embedding+reranker"
)

// ParseMatchSource rejects unknown provenance strings.
func ParseMatchSource(s string) (MatchSource, error) {
	switch MatchSource(strings.TrimSpace(s)) {
	case SourceExact, SourceEmbedding, SourceEmbeddingReranker:
		return MatchSource(strings.TrimSpace(s)), nil
	}
	return "", ErrValidation("unknown match source %q", s)
}

// UnmarshalJSON validates the source while decoding.
func (s *MatchSource) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseMatchSource(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalJSON validates the object type while decoding.
func (t *ObjectType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseObjectType(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// CandidateMatch is a catalog object tentatively identified from free text.
type CandidateMatch struct {
	Token         string      `json:"token"`
	ObjectType    ObjectType  `json:"object_type"`
	CanonicalName string      `json:"canonical_name"`
	Dataset       string      `json:"dataset,omitempty"`
	Entity        string      `json:"entity,omitempty"`
	Allowed       bool        `json:"allowed"`
	Score         *float64    `json:"score,omitempty"`
	Source        MatchSource `json:"source"`
}

// MatchResult partitions candidates into allowed and blocked (sensitive) matches.
type MatchResult struct {
	Matches []CandidateMatch `json:"matches"`
	Blocked []CandidateMatch `json:"blocked"`
}

// Features is the per-request output of the feature extractor.
type Features struct {
	Tokens     []string `json:"tokens,omitempty"`
	Metrics    []string `json:"metrics,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
	Filters    []string `json:"filters,omitempty"`
	TimeStart  string   `json:"time_start,omitempty"`
	TimeEnd    string   `json:"time_end,omitempty"`
	QueryText  string   `json:"query_text,omitempty"`
}

// HasTimeBound reports whether either time bound is set.
func (f Features) HasTimeBound() bool {
	return strings.TrimSpace(f.TimeStart) != "" || strings.TrimSpace(f.TimeEnd) != ""
}

// ProposedFilter is a FieldOp-shaped filter from the untrusted selection
// proposer. Op is kept as a raw string so unsupported operators can be
// rejected during sanitization rather than at decode time.
type ProposedFilter struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value FilterValue `json:"value"`
}

// Selection is the untrusted, proposer-supplied selection.
type Selection struct {
	SelectedMetrics           []string         `json:"selected_metrics,omitempty"`
	SelectedDimensions        []string         `json:"selected_dimensions,omitempty"`
	SelectedFilters           []ProposedFilter `json:"selected_filters,omitempty"`
	SelectedDatasetCandidates []string         `json:"selected_dataset_candidates,omitempty"`
}
