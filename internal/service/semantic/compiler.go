package semantic

import (
	"fmt"
	"slices"
	"strings"

	"smartbi/internal/domain"
)

// compileLookup holds what compilation needs from the primary dataset.
type compileLookup struct {
	dataset       domain.Dataset
	joinClauses   []joinClause
	firstTimeExpr string
	calendar      *calendarJoin
}

type joinClause struct {
	entity string
	sql    string
}

type calendarJoin struct {
	entity string
	table  string
	on     string
}

func buildLookup(cat *domain.Catalog, dataset string) (compileLookup, error) {
	ds, ok := cat.Dataset(dataset)
	if !ok {
		return compileLookup{}, domain.ErrContract("dataset %q is not in the catalog", dataset)
	}
	lk := compileLookup{dataset: ds}
	if len(ds.TimeDimensions) > 0 {
		lk.firstTimeExpr = strings.TrimSpace(ds.TimeDimensions[0].Expr)
	}
	for _, j := range ds.Joins {
		e, ok := cat.Entity(j.Entity)
		if !ok || strings.TrimSpace(e.Table) == "" {
			continue
		}
		on := strings.TrimSpace(j.On)
		lk.joinClauses = append(lk.joinClauses, joinClause{
			entity: j.Entity,
			sql:    fmt.Sprintf("LEFT JOIN %s ON %s", e.Table, on),
		})
	}
	if ds.FillGapsWithCalendar {
		if j, e, ok := cat.CalendarJoin(dataset); ok && strings.TrimSpace(e.Table) != "" {
			lk.calendar = &calendarJoin{entity: j.Entity, table: e.Table, on: strings.TrimSpace(j.On)}
		}
	}
	return lk, nil
}

// Compile renders a validated plan as a single SELECT statement. It is a
// pure function of its inputs; any unmet precondition is a ContractError and
// no SQL is returned.
func Compile(plan domain.QueryPlan, cat *domain.Catalog) (string, error) {
	dataset := plan.PrimaryDataset()
	if dataset == "" {
		return "", domain.ErrContract("no dataset candidate available for compilation")
	}
	lk, err := buildLookup(cat, dataset)
	if err != nil {
		return "", err
	}
	from := strings.TrimSpace(lk.dataset.From)
	if from == "" {
		return "", domain.ErrContract("dataset %q has no from clause", dataset)
	}

	var selectParts, groupBy []string
	for _, cn := range plan.SelectedDimensions {
		d, ok := cat.Dimension(cn)
		if !ok || strings.TrimSpace(d.Expr) == "" {
			return "", domain.ErrContract("dimension %q cannot be resolved", cn)
		}
		expr := strings.TrimSpace(d.Expr)
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", expr, columnAlias(cn)))
		groupBy = append(groupBy, expr)
	}

	skeleton := lk.calendar != nil && lk.firstTimeExpr != "" && slices.Contains(groupBy, lk.firstTimeExpr)

	for _, cn := range plan.SelectedMetrics {
		m, ok := cat.Metric(cn)
		if !ok || m.Dataset != dataset || strings.TrimSpace(m.Metric.Expr) == "" {
			return "", domain.ErrContract("metric %q cannot be resolved in dataset %q", cn, dataset)
		}
		expr := aggregate(strings.TrimSpace(m.Metric.Expr), m.Metric.Agg)
		if skeleton && m.Metric.Agg.Aggregates() {
			expr = fmt.Sprintf("COALESCE(%s, 0)", expr)
		}
		selectParts = append(selectParts, fmt.Sprintf("%s AS %s", expr, columnAlias(cn)))
	}

	if len(selectParts) == 0 {
		return "", domain.ErrContract("no dimensions or metrics to select")
	}

	var where []string
	for _, f := range plan.SelectedFilters {
		pred, err := renderFilter(f, cat)
		if err != nil {
			return "", err
		}
		where = append(where, pred)
	}

	lines := []string{"SELECT " + strings.Join(selectParts, ", ")}
	if skeleton {
		lines = append(lines,
			"FROM "+lk.calendar.table,
			fmt.Sprintf("LEFT JOIN %s ON %s", from, lk.calendar.on),
		)
		for _, j := range lk.joinClauses {
			if j.entity == lk.calendar.entity {
				continue
			}
			lines = append(lines, j.sql)
		}
	} else {
		lines = append(lines, "FROM "+from)
		for _, j := range lk.joinClauses {
			lines = append(lines, j.sql)
		}
	}
	if len(where) > 0 {
		lines = append(lines, "WHERE "+strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		lines = append(lines, "GROUP BY "+strings.Join(groupBy, ", "))
	}
	return strings.Join(lines, "\n"), nil
}

func aggregate(expr string, agg domain.AggKind) string {
	switch agg {
	case domain.AggSum:
		return "SUM(" + expr + ")"
	case domain.AggAvg:
		return "AVG(" + expr + ")"
	case domain.AggCount:
		return "COUNT(" + expr + ")"
	case domain.AggCountDistinct:
		return "COUNT(DISTINCT " + expr + ")"
	default:
		return expr
	}
}

func renderFilter(f domain.Filter, cat *domain.Catalog) (string, error) {
	switch f := f.(type) {
	case domain.RawExpr:
		expr := strings.TrimSpace(f.Expr)
		if expr == "" {
			return "", domain.ErrContract("empty raw filter expression")
		}
		return expr, nil
	case domain.FieldOp:
		d, ok := cat.Dimension(strings.TrimSpace(f.Field))
		if !ok {
			return "", domain.ErrContract("filter field %q cannot be resolved", f.Field)
		}
		field := strings.TrimSpace(d.Expr)
		switch {
		case f.Op == domain.OpBetween:
			items := f.Value.Items()
			if len(items) != 2 {
				return "", domain.ErrContract("between filter on %q needs two values", f.Field)
			}
			return fmt.Sprintf("%s BETWEEN %s AND %s", field, items[0].SQL(), items[1].SQL()), nil
		case f.Op == domain.OpIn:
			items := f.Value.Items()
			if len(items) == 0 {
				return "", domain.ErrContract("in filter on %q needs values", f.Field)
			}
			vals := make([]string, len(items))
			for i, it := range items {
				vals[i] = it.SQL()
			}
			return fmt.Sprintf("%s IN (%s)", field, strings.Join(vals, ", ")), nil
		case f.Op.IsComparison():
			l, ok := f.Value.Scalar()
			if !ok {
				return "", domain.ErrContract("%s filter on %q needs a scalar value", f.Op, f.Field)
			}
			return fmt.Sprintf("%s %s %s", field, f.Op, l.SQL()), nil
		case f.Op == domain.OpIsNull:
			return field + " IS NULL", nil
		case f.Op == domain.OpIsNotNull:
			return field + " IS NOT NULL", nil
		default:
			return "", domain.ErrContract("unsupported operator %q", f.Op)
		}
	default:
		return "", domain.ErrContract("unsupported filter %T", f)
	}
}

// columnAlias turns "sales.biz_date" into "sales_biz_date".
func columnAlias(canonical string) string {
	return strings.ReplaceAll(canonical, ".", "_")
}
