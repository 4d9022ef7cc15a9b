package semantic

import (
	"regexp"
	"slices"
	"strings"

	"smartbi/internal/domain"
)

// metricSuffixes are stripped from metric hints and aliases before
// containment matching ("存款總額" should find "存款").
var metricSuffixes = []string{"總額", "合計", "總計", "总额", "合计", "总计"}

// PlanBuilder merges matcher candidates, the untrusted proposer selection and
// extracted features into a QueryPlan.
type PlanBuilder struct {
	catalog *domain.Catalog
	index   *AliasIndex
}

// NewPlanBuilder creates a PlanBuilder.
func NewPlanBuilder(cat *domain.Catalog, index *AliasIndex) *PlanBuilder {
	return &PlanBuilder{catalog: cat, index: index}
}

type candidateSets struct {
	metrics    []string
	dimensions []string
	datasets   []string
}

func collectCandidates(matches []domain.CandidateMatch) candidateSets {
	var cs candidateSets
	for _, c := range matches {
		if !c.Allowed || c.CanonicalName == "" {
			continue
		}
		switch {
		case c.ObjectType == domain.ObjectMetric:
			cs.metrics = appendUnique(cs.metrics, c.CanonicalName)
		case c.ObjectType.IsDimensionLike():
			cs.dimensions = appendUnique(cs.dimensions, c.CanonicalName)
		}
		if c.Dataset != "" {
			cs.datasets = appendUnique(cs.datasets, c.Dataset)
		}
	}
	return cs
}

// Merge builds the plan. It never consults anything outside its arguments
// and the catalog, so equal inputs yield equal plans.
func (b *PlanBuilder) Merge(sel domain.Selection, matches domain.MatchResult, features domain.Features) domain.QueryPlan {
	plan := domain.QueryPlan{
		SelectedMetrics:           []string{},
		SelectedDimensions:        []string{},
		SelectedFilters:           []domain.Filter{},
		SelectedDatasetCandidates: []string{},
		RejectedCandidates:        []domain.RejectedCandidate{},
		ClarificationQuestions:    []string{},
	}

	for _, blocked := range matches.Blocked {
		if blocked.CanonicalName == "" {
			continue
		}
		plan.RejectedCandidates = appendRejected(plan.RejectedCandidates, blocked.CanonicalName, domain.RejectSensitive)
	}

	cands := collectCandidates(matches.Matches)

	metrics := b.allowList(sel.SelectedMetrics, cands.metrics, &plan)
	dimensions := b.allowList(sel.SelectedDimensions, cands.dimensions, &plan)
	datasets := b.allowList(sel.SelectedDatasetCandidates, cands.datasets, &plan)

	if len(metrics) == 0 {
		metrics = slices.Clone(cands.metrics)
	}
	if len(dimensions) == 0 {
		dimensions = slices.Clone(cands.dimensions)
	}
	if len(datasets) == 0 {
		datasets = slices.Clone(cands.datasets)
	}
	if len(metrics) == 0 {
		metrics = b.inferMetrics(features.Metrics)
	}

	primary := b.primaryDataset(datasets, metrics, dimensions)
	dimensions = b.scopeDimensions(dimensions, primary)

	plan.SelectedMetrics = append(plan.SelectedMetrics, metrics...)
	plan.SelectedDimensions = append(plan.SelectedDimensions, dimensions...)
	if primary != "" {
		plan.SelectedDatasetCandidates = append(plan.SelectedDatasetCandidates, primary)
		for _, m := range metrics {
			if owner := domain.OwnerOf(m); owner != "" && b.catalog.IsDataset(owner) {
				plan.SelectedDatasetCandidates = appendUnique(plan.SelectedDatasetCandidates, owner)
			}
		}
	}

	plan.SelectedFilters = b.sanitizeFilters(sel.SelectedFilters, primary, &plan)
	if len(plan.SelectedFilters) == 0 {
		plan.SelectedFilters = b.parseFeatureFilters(features.Filters, primary)
	}
	b.applyTimeAxis(&plan, features, primary)

	if !plan.HasSelection() {
		plan.NeedsClarification = true
		plan.ClarificationQuestions = append(plan.ClarificationQuestions, domain.ClarificationPrompt)
	}
	return plan
}

// allowList keeps proposer values present in candidates, in proposer order.
// Everything else is recorded as rejected.
func (b *PlanBuilder) allowList(proposed, candidates []string, plan *domain.QueryPlan) []string {
	var out []string
	for _, p := range proposed {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if slices.Contains(candidates, p) {
			out = appendUnique(out, p)
			continue
		}
		plan.RejectedCandidates = appendRejected(plan.RejectedCandidates, p, domain.RejectNotInCandidates)
	}
	return out
}

// inferMetrics matches free-text metric hints against catalog metric names
// and synonyms by normalized containment in either direction.
func (b *PlanBuilder) inferMetrics(hints []string) []string {
	var out []string
	for _, h := range hints {
		hint := metricKey(h)
		if hint == "" {
			continue
		}
		for _, ds := range b.catalog.Datasets() {
			for _, m := range ds.Metrics {
				for _, alias := range append([]string{m.Name}, m.Synonyms...) {
					a := metricKey(alias)
					if a == "" {
						continue
					}
					if strings.Contains(a, hint) || strings.Contains(hint, a) {
						out = appendUnique(out, domain.CanonicalName(ds.Name, m.Name))
						break
					}
				}
			}
		}
	}
	return out
}

func metricKey(s string) string {
	k := strings.Join(strings.Fields(normalize(s)), "")
	for _, suffix := range metricSuffixes {
		k = strings.TrimSuffix(k, suffix)
	}
	return k
}

func (b *PlanBuilder) primaryDataset(datasets, metrics, dimensions []string) string {
	for _, ds := range datasets {
		if b.catalog.IsDataset(ds) {
			return ds
		}
	}
	for _, refs := range [][]string{metrics, dimensions} {
		for _, cn := range refs {
			if owner := domain.OwnerOf(cn); b.catalog.IsDataset(owner) {
				return owner
			}
		}
	}
	return ""
}

// scopeDimensions drops dimensions outside the primary dataset and its
// directly joined entities, then maps calendar placeholders to the
// dataset's own time dimension.
func (b *PlanBuilder) scopeDimensions(dimensions []string, primary string) []string {
	if primary == "" {
		return dimensions
	}
	timeDim, hasTime := b.catalog.PrimaryTimeDimension(primary)

	out := []string{}
	for _, cn := range dimensions {
		owner := domain.OwnerOf(cn)
		if owner != primary && !b.catalog.JoinsEntity(primary, owner) {
			continue
		}
		if hasTime && b.isCalendarPlaceholder(cn, primary, timeDim) {
			cn = timeDim.CanonicalName
		}
		out = appendUnique(out, cn)
	}
	return out
}

var reJoinAnd = regexp.MustCompile(`(?i)\s+and\s+`)

// isCalendarPlaceholder reports whether cn is the calendar field standing in
// for timeDim: it has the same expression, or the primary dataset's calendar
// join equates the two. Other calendar attributes (weekday, holiday flags)
// are ordinary dimensions.
func (b *PlanBuilder) isCalendarPlaceholder(cn, primary string, timeDim domain.ResolvedDimension) bool {
	e, ok := b.catalog.Entity(domain.OwnerOf(cn))
	if !ok || e.Kind != domain.EntityKindCalendar {
		return false
	}
	d, ok := b.catalog.Dimension(cn)
	if !ok {
		return false
	}
	field, target := compactExpr(d.Expr), compactExpr(timeDim.Expr)
	if field == "" || target == "" {
		return false
	}
	if field == target {
		return true
	}
	j, _, ok := b.catalog.CalendarJoin(primary)
	return ok && j.Entity == e.Name && joinEquates(j.On, field, target)
}

// joinEquates reports whether one AND-ed condition of an ON clause is an
// equality between the compacted expressions a and b.
func joinEquates(on, a, b string) bool {
	for _, cond := range reJoinAnd.Split(on, -1) {
		l, r, ok := strings.Cut(cond, "=")
		if !ok {
			continue
		}
		l, r = compactExpr(l), compactExpr(r)
		if (l == a && r == b) || (l == b && r == a) {
			return true
		}
	}
	return false
}

func compactExpr(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// sanitizeFilters resolves proposer filter fields through the alias index and
// rejects unknown operators.
func (b *PlanBuilder) sanitizeFilters(proposed []domain.ProposedFilter, primary string, plan *domain.QueryPlan) []domain.Filter {
	out := []domain.Filter{}
	for _, pf := range proposed {
		field := strings.TrimSpace(pf.Field)
		canonical, ok := b.resolveFilterField(field, primary)
		if !ok {
			plan.RejectedCandidates = appendRejected(plan.RejectedCandidates, field, domain.RejectUnresolvedField)
			continue
		}
		op, err := domain.ParseFilterOp(pf.Op)
		if err != nil {
			plan.RejectedCandidates = appendRejected(plan.RejectedCandidates, canonical, domain.RejectUnsupportedOp)
			continue
		}
		out = append(out, domain.FieldOp{Field: canonical, Op: op, Value: pf.Value, Source: domain.FilterFromSelection})
	}
	return out
}

// resolveFilterField accepts catalog dimensions, dotted references (left for
// validation to judge) and aliases.
func (b *PlanBuilder) resolveFilterField(field, primary string) (string, bool) {
	if field == "" {
		return "", false
	}
	if b.catalog.IsValidDimension(field) {
		return field, true
	}
	if cn, ok := b.index.ResolveField(field, b.catalog, primary); ok {
		return cn, true
	}
	if _, _, ok := domain.SplitCanonical(field); ok && !strings.ContainsAny(field, " \t()'\"=<>") {
		return field, true
	}
	return "", false
}

func (b *PlanBuilder) parseFeatureFilters(texts []string, primary string) []domain.Filter {
	out := []domain.Filter{}
	for _, raw := range texts {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		pf, ok := parseFilterText(text)
		if ok {
			if cn, resolved := b.resolveTextField(pf.lhs, primary); resolved {
				out = append(out, domain.FieldOp{Field: cn, Op: pf.op, Value: pf.value, Source: domain.FilterFromText})
				continue
			}
		}
		out = append(out, domain.RawExpr{Expr: text, Source: domain.FilterFromText})
	}
	return out
}

func (b *PlanBuilder) resolveTextField(lhs, primary string) (string, bool) {
	if b.catalog.IsValidDimension(lhs) {
		return lhs, true
	}
	return b.index.ResolveField(lhs, b.catalog, primary)
}

// applyTimeAxis records the extracted time window and, when both bounds are
// present, replaces any filter on the time dimension with one between filter.
func (b *PlanBuilder) applyTimeAxis(plan *domain.QueryPlan, features domain.Features, primary string) {
	if !features.HasTimeBound() {
		return
	}
	axis := &domain.TimeAxis{Start: strings.TrimSpace(features.TimeStart), End: strings.TrimSpace(features.TimeEnd)}
	plan.TimeAxis = axis
	if !axis.Complete() || primary == "" {
		return
	}
	timeDim, ok := b.catalog.PrimaryTimeDimension(primary)
	if !ok {
		return
	}

	kept := plan.SelectedFilters[:0:0]
	for _, f := range plan.SelectedFilters {
		if fo, ok := f.(domain.FieldOp); ok && (fo.Field == timeDim.CanonicalName || b.isCalendarPlaceholder(fo.Field, primary, timeDim)) {
			continue
		}
		kept = append(kept, f)
	}
	kept = append(kept, domain.FieldOp{
		Field: timeDim.CanonicalName,
		Op:    domain.OpBetween,
		Value: domain.ListValue(
			domain.StringLiteral(truncateToGrain(axis.Start, timeDim.Grain)),
			domain.StringLiteral(truncateToGrain(axis.End, timeDim.Grain)),
		),
		Source: domain.FilterFromTimeAxis,
	})
	plan.SelectedFilters = kept
}

// truncateToGrain cuts an ISO date to the dimension's grain.
func truncateToGrain(date, grain string) string {
	switch strings.ToLower(strings.TrimSpace(grain)) {
	case "month":
		if len(date) >= 7 {
			return date[:7]
		}
	case "year":
		if len(date) >= 4 {
			return date[:4]
		}
	}
	return date
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func appendRejected(list []domain.RejectedCandidate, name, reason string) []domain.RejectedCandidate {
	for _, r := range list {
		if r.CanonicalName == name && r.Reason == reason {
			return list
		}
	}
	return append(list, domain.RejectedCandidate{CanonicalName: name, Reason: reason})
}
