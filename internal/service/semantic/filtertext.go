package semantic

import (
	"regexp"
	"strings"

	"smartbi/internal/domain"
)

var (
	reBetween   = regexp.MustCompile(`(?is)^(.+?)\s+between\s+(.+?)\s+and\s+(.+)$`)
	reIn        = regexp.MustCompile(`(?is)^(.+?)\s+in\s*\((.*)\)$`)
	reIsNotNull = regexp.MustCompile(`(?is)^(.+?)\s+is\s+not\s+null$`)
	reIsNull    = regexp.MustCompile(`(?is)^(.+?)\s+is\s+null$`)
	reCompare   = regexp.MustCompile(`(?s)^(.+?)\s*(>=|<=|!=|<>|==|=|>|<)\s*(.+)$`)
	reNumber    = regexp.MustCompile(`^[+-]?(0|[1-9][0-9]*)(\.[0-9]+)?$`)

	fullWidthOps = strings.NewReplacer("＝", "=", "＜", "<", "＞", ">", "！", "!", "（", "(", "）", ")", "，", ",")
)

// parsedFilter is the syntactic result of parsing one free-text filter.
type parsedFilter struct {
	lhs   string
	op    domain.FilterOp
	value domain.FilterValue
}

// parseFilterText recognizes BETWEEN, IN, IS [NOT] NULL and single
// comparisons. ok is false when the text matches none of them.
func parseFilterText(text string) (parsedFilter, bool) {
	s := strings.TrimSpace(fullWidthOps.Replace(text))
	if s == "" {
		return parsedFilter{}, false
	}

	if m := reBetween.FindStringSubmatch(s); m != nil {
		return parsedFilter{
			lhs:   strings.TrimSpace(m[1]),
			op:    domain.OpBetween,
			value: domain.ListValue(parseScalar(m[2]), parseScalar(m[3])),
		}, true
	}
	if m := reIn.FindStringSubmatch(s); m != nil {
		items := splitList(m[2])
		if len(items) == 0 {
			return parsedFilter{}, false
		}
		lits := make([]domain.Literal, len(items))
		for i, it := range items {
			lits[i] = parseScalar(it)
		}
		return parsedFilter{lhs: strings.TrimSpace(m[1]), op: domain.OpIn, value: domain.ListValue(lits...)}, true
	}
	if m := reIsNotNull.FindStringSubmatch(s); m != nil {
		return parsedFilter{lhs: strings.TrimSpace(m[1]), op: domain.OpIsNotNull, value: domain.NoValue()}, true
	}
	if m := reIsNull.FindStringSubmatch(s); m != nil {
		return parsedFilter{lhs: strings.TrimSpace(m[1]), op: domain.OpIsNull, value: domain.NoValue()}, true
	}
	if m := reCompare.FindStringSubmatch(s); m != nil {
		op, err := domain.ParseFilterOp(m[2])
		if err != nil {
			return parsedFilter{}, false
		}
		return parsedFilter{lhs: strings.TrimSpace(m[1]), op: op, value: domain.ScalarValue(parseScalar(m[3]))}, true
	}
	return parsedFilter{}, false
}

// parseScalar turns a quoted string, a number, NULL or a bare token into a
// literal. Numbers with leading zeros stay strings so codes like "001" keep
// their text.
func parseScalar(raw string) domain.Literal {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 {
		switch {
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return domain.StringLiteral(strings.ReplaceAll(s[1:len(s)-1], "''", "'"))
		case s[0] == '"' && s[len(s)-1] == '"':
			return domain.StringLiteral(s[1 : len(s)-1])
		case strings.HasPrefix(s, "「") && strings.HasSuffix(s, "」"):
			return domain.StringLiteral(strings.TrimSuffix(strings.TrimPrefix(s, "「"), "」"))
		}
	}
	if strings.EqualFold(s, "null") {
		return domain.NullLiteral()
	}
	if reNumber.MatchString(s) {
		return domain.NumberLiteral(s)
	}
	return domain.StringLiteral(s)
}

// splitList splits an IN list on commas outside single or double quotes.
func splitList(s string) []string {
	var (
		items []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if item := strings.TrimSpace(cur.String()); item != "" {
			items = append(items, item)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return items
}
