package semantic

import (
	"fmt"
	"strings"

	"smartbi/internal/domain"
)

// Validate checks a plan against governance and catalog referential
// integrity. A blocked candidate short-circuits every other rule; all other
// failures accumulate.
func Validate(plan domain.QueryPlan, matches domain.MatchResult, gov domain.Governance, cat *domain.Catalog) domain.ValidationResult {
	res := domain.ValidationResult{OK: true, ErrorCodes: []domain.ErrorCode{}, Errors: []string{}}

	if len(matches.Blocked) > 0 {
		names := make([]string, 0, len(matches.Blocked))
		for _, b := range matches.Blocked {
			names = append(names, b.CanonicalName)
		}
		res.Add(domain.CodeBlockedMatch, fmt.Sprintf("query touches sensitive fields: %s", strings.Join(names, ", ")))
		return res
	}

	hasContext := plan.HasSelection() || len(plan.SelectedDatasetCandidates) > 0
	if gov.RequireTimeFilter && hasContext && len(plan.SelectedFilters) == 0 {
		res.Add(domain.CodeTimeFilterRequired, "a time filter is required for this tenant")
	}

	if plan.TimeAxis != nil && !plan.TimeAxis.Complete() {
		res.Add(domain.CodeTimeAxisIncomplete, "time axis is missing a start or end date")
	}

	if !plan.HasSelection() {
		res.Add(domain.CodeEmptySelection, "no metric or dimension selected")
	}

	if spanned := spannedDatasets(plan, cat); len(spanned) > 1 && !hasCommonJoin(spanned, cat) {
		res.Add(domain.CodeMultiDatasetNoJoinPath,
			fmt.Sprintf("datasets %s share no directly joined entity", strings.Join(spanned, ", ")))
	}

	var invalid []string
	for _, m := range plan.SelectedMetrics {
		if !cat.IsValidMetric(m) {
			invalid = append(invalid, m)
		}
	}
	for _, d := range plan.SelectedDimensions {
		if !cat.IsValidDimension(d) {
			invalid = append(invalid, d)
		}
	}
	for _, f := range plan.SelectedFilters {
		fo, ok := f.(domain.FieldOp)
		if !ok || !strings.Contains(fo.Field, ".") {
			continue
		}
		if !cat.IsValidDimension(strings.TrimSpace(fo.Field)) {
			invalid = append(invalid, fo.Field)
		}
	}
	if len(invalid) > 0 {
		res.Add(domain.CodeInvalidCanonicalRef, fmt.Sprintf("unknown catalog references: %s", strings.Join(invalid, ", ")))
	}

	if primary := plan.PrimaryDataset(); primary != "" {
		var foreign []string
		for _, m := range plan.SelectedMetrics {
			if domain.OwnerOf(m) != primary {
				foreign = append(foreign, m)
			}
		}
		for _, d := range plan.SelectedDimensions {
			owner := domain.OwnerOf(d)
			if owner != primary && !cat.JoinsEntity(primary, owner) {
				foreign = append(foreign, d)
			}
		}
		if len(foreign) > 0 {
			res.Add(domain.CodeDatasetMismatch,
				fmt.Sprintf("%s do not belong to dataset %q or an entity it joins", strings.Join(foreign, ", "), primary))
		}
	}

	for i, f := range plan.SelectedFilters {
		checkFilterShape(&res, i+1, f)
	}

	if !hasCompilableSelect(plan, cat) {
		res.Add(domain.CodeNoCompilableSelect, "no selected metric or dimension belongs to the primary dataset")
	}

	res.OK = len(res.ErrorCodes) == 0
	return res
}

// spannedDatasets lists the plan's dataset candidates plus the dataset
// prefixes of selected metrics and dimensions. Entity-owned references and
// unknown prefixes do not count.
func spannedDatasets(plan domain.QueryPlan, cat *domain.Catalog) []string {
	var out []string
	for _, ds := range plan.SelectedDatasetCandidates {
		if ds = strings.TrimSpace(ds); ds != "" {
			out = appendUnique(out, ds)
		}
	}
	for _, refs := range [][]string{plan.SelectedMetrics, plan.SelectedDimensions} {
		for _, cn := range refs {
			owner := domain.OwnerOf(cn)
			if owner == "" || cat.IsEntity(owner) || !cat.IsDataset(owner) {
				continue
			}
			out = appendUnique(out, owner)
		}
	}
	return out
}

// hasCommonJoin is a one-hop test: the datasets must all directly join at
// least one common entity. A dataset without joins has no path.
func hasCommonJoin(datasets []string, cat *domain.Catalog) bool {
	var common map[string]bool
	for _, ds := range datasets {
		joined := cat.JoinedEntities(ds)
		if len(joined) == 0 {
			return false
		}
		next := make(map[string]bool, len(joined))
		for _, e := range joined {
			if common == nil || common[e] {
				next[e] = true
			}
		}
		common = next
	}
	return len(common) > 0
}

func checkFilterShape(res *domain.ValidationResult, n int, f domain.Filter) {
	switch f := f.(type) {
	case domain.RawExpr:
		if strings.TrimSpace(f.Expr) == "" {
			res.Add(domain.CodeInvalidFilterShape, fmt.Sprintf("filter %d has neither field/op/value nor an expression", n))
		}
	case domain.FieldOp:
		if strings.TrimSpace(f.Field) == "" || f.Op == "" {
			res.Add(domain.CodeInvalidFilterShape, fmt.Sprintf("filter %d has neither field/op/value nor an expression", n))
			return
		}
		switch {
		case f.Op == domain.OpBetween:
			if len(f.Value.Items()) != 2 {
				res.Add(domain.CodeInvalidFilterBetween, fmt.Sprintf("filter %d: between needs exactly two values", n))
			}
		case f.Op == domain.OpIn:
			if len(f.Value.Items()) == 0 {
				res.Add(domain.CodeInvalidFilterValue, fmt.Sprintf("filter %d: in needs at least one value", n))
			}
		case f.Op.IsComparison():
			if l, ok := f.Value.Scalar(); !ok || l.IsNull() {
				res.Add(domain.CodeInvalidFilterValue, fmt.Sprintf("filter %d: %s needs a non-null scalar value", n, f.Op))
			}
		case f.Op.IsUnary():
			if !f.Value.IsAbsent() {
				res.Add(domain.CodeInvalidFilterValue, fmt.Sprintf("filter %d: %s takes no value", n, f.Op))
			}
		default:
			res.Add(domain.CodeInvalidFilterShape, fmt.Sprintf("filter %d: unsupported operator %q", n, f.Op))
		}
	case nil:
		res.Add(domain.CodeInvalidFilterShape, fmt.Sprintf("filter %d is empty", n))
	default:
		res.Add(domain.CodeInvalidFilterShape, fmt.Sprintf("filter %d has an unknown shape", n))
	}
}

// hasCompilableSelect reports whether at least one selected reference is a
// metric, dimension or time dimension of the primary dataset itself.
func hasCompilableSelect(plan domain.QueryPlan, cat *domain.Catalog) bool {
	primary := plan.PrimaryDataset()
	if primary == "" {
		return false
	}
	for _, m := range plan.SelectedMetrics {
		if rm, ok := cat.Metric(m); ok && rm.Dataset == primary {
			return true
		}
	}
	for _, d := range plan.SelectedDimensions {
		if rd, ok := cat.Dimension(d); ok && rd.Owner == primary && rd.ObjectType != domain.ObjectField {
			return true
		}
	}
	return false
}
