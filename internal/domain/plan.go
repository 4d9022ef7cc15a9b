package domain

import (
	"encoding/json"
	"strings"
)

// ClarificationPrompt is asked when a plan selects nothing.
const ClarificationPrompt = "請補充要查詢的指標或維度名稱。"

// Reasons recorded on rejected candidates.
const (
	RejectSensitive       = "sensitive_or_disallowed"
	RejectNotInCandidates = "not_in_candidates"
	RejectUnresolvedField = "unresolved_filter_field"
	RejectUnsupportedOp   = "unsupported_operator"
)

// RejectedCandidate is a reference that was seen but not admitted to the plan.
type RejectedCandidate struct {
	CanonicalName string `json:"canonical_name"`
	Reason        string `json:"reason"`
}

// TimeAxis is the requested time window. Either bound may be empty when the
// extractor only found one.
type TimeAxis struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Complete reports whether both bounds are set.
func (t TimeAxis) Complete() bool {
	return strings.TrimSpace(t.Start) != "" && strings.TrimSpace(t.End) != ""
}

// QueryPlan is the deterministic, allow-listed selection to compile.
type QueryPlan struct {
	SelectedMetrics           []string            `json:"selected_metrics"`
	SelectedDimensions        []string            `json:"selected_dimensions"`
	SelectedFilters           []Filter            `json:"selected_filters"`
	SelectedDatasetCandidates []string            `json:"selected_dataset_candidates"`
	RejectedCandidates        []RejectedCandidate `json:"rejected_candidates"`
	NeedsClarification        bool                `json:"needs_clarification"`
	ClarificationQuestions    []string            `json:"clarification_questions"`
	TimeAxis                  *TimeAxis           `json:"time_axis,omitempty"`
}

// PrimaryDataset returns the first selected dataset candidate, or "".
func (p QueryPlan) PrimaryDataset() string {
	if len(p.SelectedDatasetCandidates) == 0 {
		return ""
	}
	return p.SelectedDatasetCandidates[0]
}

// HasSelection reports whether any metric or dimension is selected.
func (p QueryPlan) HasSelection() bool {
	return len(p.SelectedMetrics) > 0 || len(p.SelectedDimensions) > 0
}

// ErrorCode is a stable plan validation failure code.
type ErrorCode string

const (
	CodeBlockedMatch           ErrorCode = "BLOCKED_MATCH"
	CodeTimeFilterRequired     ErrorCode = "TIME_FILTER_REQUIRED"
	CodeTimeAxisIncomplete     ErrorCode = "TIME_AXIS_INCOMPLETE"
	CodeEmptySelection         ErrorCode = "EMPTY_SELECTION"
	CodeMultiDatasetNoJoinPath ErrorCode = "MULTI_DATASET_NO_JOIN_PATH"
	CodeInvalidCanonicalRef    ErrorCode = "INVALID_CANONICAL_REF"
	CodeDatasetMismatch        ErrorCode = "DATASET_MISMATCH"
	CodeInvalidFilterShape     ErrorCode = "INVALID_FILTER_SHAPE"
	CodeInvalidFilterBetween   ErrorCode = "INVALID_FILTER_BETWEEN"
	CodeInvalidFilterValue     ErrorCode = "INVALID_FILTER_VALUE"
	CodeNoCompilableSelect     ErrorCode = "NO_COMPILABLE_SELECT"
)

var knownCodes = map[ErrorCode]bool{
	CodeBlockedMatch: true, CodeTimeFilterRequired: true, CodeTimeAxisIncomplete: true,
	CodeEmptySelection: true, CodeMultiDatasetNoJoinPath: true, CodeInvalidCanonicalRef: true,
	CodeDatasetMismatch: true, CodeInvalidFilterShape: true, CodeInvalidFilterBetween: true,
	CodeInvalidFilterValue: true, CodeNoCompilableSelect: true,
}

// ParseErrorCode rejects codes outside the stable set.
func ParseErrorCode(s string) (ErrorCode, error) {
	c := ErrorCode(strings.TrimSpace(s))
	if !knownCodes[c] {
		return "", ErrValidation("unknown error code %q", s)
	}
	return c, nil
}

// ValidationResult aggregates plan validation outcomes. Codes are deduplicated
// in first-seen order; Errors keeps one human-readable line per failure.
type ValidationResult struct {
	OK         bool        `json:"ok"`
	ErrorCodes []ErrorCode `json:"error_codes"`
	Errors     []string    `json:"errors"`
}

// Add records a failure.
func (r *ValidationResult) Add(code ErrorCode, msg string) {
	if !r.HasCode(code) {
		r.ErrorCodes = append(r.ErrorCodes, code)
	}
	r.Errors = append(r.Errors, msg)
	r.OK = false
}

// HasCode reports whether code was recorded.
func (r ValidationResult) HasCode(code ErrorCode) bool {
	for _, c := range r.ErrorCodes {
		if c == code {
			return true
		}
	}
	return false
}

// MarshalJSON emits empty arrays instead of null.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	type alias ValidationResult
	a := alias(r)
	if a.ErrorCodes == nil {
		a.ErrorCodes = []ErrorCode{}
	}
	if a.Errors == nil {
		a.Errors = []string{}
	}
	return json.Marshal(a)
}
