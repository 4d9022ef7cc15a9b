package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FilterOp is a closed set of filter operators.
type FilterOp string

const (
	OpEq        FilterOp = "="
	OpNe        FilterOp = "!="
	OpGt        FilterOp = ">"
	OpGte       FilterOp = ">="
	OpLt        FilterOp = "<"
	OpLte       FilterOp = "<="
	OpBetween   FilterOp = "between"
	OpIn        FilterOp = "in"
	OpIsNull    FilterOp = "is null"
	OpIsNotNull FilterOp = "is not null"
)

// ParseFilterOp normalizes an operator string (trimmed, lowercased, inner
// whitespace collapsed) and rejects anything outside the closed set.
func ParseFilterOp(s string) (FilterOp, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	switch norm {
	case "=", "==":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGte, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLte, nil
	case "between":
		return OpBetween, nil
	case "in":
		return OpIn, nil
	case "is null":
		return OpIsNull, nil
	case "is not null":
		return OpIsNotNull, nil
	}
	return "", ErrValidation("unsupported filter operator %q", s)
}

// IsComparison reports whether the operator is a binary scalar comparison.
func (op FilterOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// IsUnary reports whether the operator takes no value.
func (op FilterOp) IsUnary() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// LiteralKind tags a filter literal.
type LiteralKind string

const (
	LiteralString LiteralKind = "string"
	LiteralNumber LiteralKind = "number"
	LiteralNull   LiteralKind = "null"
)

// Literal is a scalar filter value. Numbers keep their source text so they
// render exactly as written.
type Literal struct {
	Kind LiteralKind
	Text string
}

// StringLiteral returns a literal rendered single-quoted.
func StringLiteral(s string) Literal { return Literal{Kind: LiteralString, Text: s} }

// NumberLiteral returns a literal whose text is emitted unquoted.
func NumberLiteral(s string) Literal { return Literal{Kind: LiteralNumber, Text: s} }

// NullLiteral returns the SQL NULL literal.
func NullLiteral() Literal { return Literal{Kind: LiteralNull} }

// IsNull reports whether l is the NULL literal.
func (l Literal) IsNull() bool { return l.Kind == LiteralNull }

func (l Literal) String() string { return l.Text }

// SQL renders the literal: numbers pass through, null becomes NULL, and
// strings are single-quoted with embedded quotes doubled.
func (l Literal) SQL() string {
	switch l.Kind {
	case LiteralNumber:
		return l.Text
	case LiteralNull:
		return "NULL"
	default:
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	}
}

// MarshalJSON encodes numbers as JSON numbers and null as JSON null.
func (l Literal) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case LiteralNumber:
		return []byte(l.Text), nil
	case LiteralNull:
		return []byte("null"), nil
	default:
		return json.Marshal(l.Text)
	}
}

// FilterValue is absent, a single literal, or a list of literals.
type FilterValue struct {
	present bool
	list    bool
	items   []Literal
}

// NoValue is the absent value used by unary operators.
func NoValue() FilterValue { return FilterValue{} }

// ScalarValue wraps a single literal.
func ScalarValue(l Literal) FilterValue {
	return FilterValue{present: true, items: []Literal{l}}
}

// ListValue wraps a list of literals. An empty list is present but empty.
func ListValue(items ...Literal) FilterValue {
	return FilterValue{present: true, list: true, items: append([]Literal{}, items...)}
}

// IsAbsent reports whether no value was supplied.
func (v FilterValue) IsAbsent() bool { return !v.present }

// IsList reports whether the value is a list.
func (v FilterValue) IsList() bool { return v.present && v.list }

// Scalar returns the single literal of a scalar value.
func (v FilterValue) Scalar() (Literal, bool) {
	if !v.present || v.list {
		return Literal{}, false
	}
	return v.items[0], true
}

// Items returns the list elements, or nil for a scalar or absent value.
func (v FilterValue) Items() []Literal {
	if !v.IsList() {
		return nil
	}
	return v.items
}

// MarshalJSON encodes absent as null, scalar as the literal and list as an array.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch {
	case !v.present:
		return []byte("null"), nil
	case v.list:
		items := v.items
		if items == nil {
			items = []Literal{}
		}
		return json.Marshal(items)
	default:
		return json.Marshal(v.items[0])
	}
}

// UnmarshalJSON accepts null, a string, a number, a boolean or an array of
// those. Nested arrays and objects are rejected.
func (v *FilterValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = NoValue()
		return nil
	}
	if b[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		items := make([]Literal, 0, len(raw))
		for i, r := range raw {
			l, err := decodeLiteral(r)
			if err != nil {
				return fmt.Errorf("value[%d]: %w", i, err)
			}
			items = append(items, l)
		}
		*v = ListValue(items...)
		return nil
	}
	l, err := decodeLiteral(b)
	if err != nil {
		return err
	}
	if l.IsNull() {
		*v = NoValue()
		return nil
	}
	*v = ScalarValue(l)
	return nil
}

func decodeLiteral(b json.RawMessage) (Literal, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return Literal{}, err
	}
	switch t := x.(type) {
	case nil:
		return NullLiteral(), nil
	case string:
		return StringLiteral(t), nil
	case json.Number:
		return NumberLiteral(t.String()), nil
	case bool:
		return StringLiteral(strconv.FormatBool(t)), nil
	default:
		return Literal{}, ErrValidation("filter values must be scalars or a flat list of scalars")
	}
}

// FilterSource records where a filter came from.
type FilterSource string

const (
	FilterFromSelection FilterSource = "selection"
	FilterFromText      FilterSource = "text"
	FilterFromTimeAxis  FilterSource = "time_axis"
)

// Filter is either a FieldOp or a RawExpr.
type Filter interface {
	isFilter()
}

// FieldOp is a structured predicate on a canonical field.
type FieldOp struct {
	Field  string
	Op     FilterOp
	Value  FilterValue
	Source FilterSource
}

// RawExpr is unparsed filter text kept verbatim.
type RawExpr struct {
	Expr   string
	Source FilterSource
}

func (FieldOp) isFilter() {}
func (RawExpr) isFilter() {}

func (f FieldOp) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   string       `json:"kind"`
		Field  string       `json:"field"`
		Op     FilterOp     `json:"op"`
		Value  FilterValue  `json:"value"`
		Source FilterSource `json:"source,omitempty"`
	}{"field_op", f.Field, f.Op, f.Value, f.Source})
}

func (r RawExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   string       `json:"kind"`
		Expr   string       `json:"expr"`
		Source FilterSource `json:"source,omitempty"`
	}{"raw", r.Expr, r.Source})
}
