package declarative

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"smartbi/internal/domain"
)

// ANSI color codes.
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorDim   = "\033[2m"
)

// FormatCatalogText writes a human-readable catalog summary to w.
// If noColor is true, ANSI codes are suppressed.
func FormatCatalogText(w io.Writer, cat *domain.Catalog, noColor bool) {
	c := func(code string) string {
		if noColor {
			return ""
		}
		return code
	}

	for _, e := range cat.Entities() {
		fmt.Fprintf(w, "\n%sentity %s%s (%s, %s)\n", c(colorCyan), e.Name, c(colorReset), e.Table, e.Kind)
		for _, f := range e.Fields {
			fmt.Fprintf(w, "  field      %s %s%s%s\n", domain.CanonicalName(e.Name, f.Name), c(colorDim), synonyms(f.Synonyms), c(colorReset))
		}
		for _, f := range e.SensitiveFields {
			fmt.Fprintf(w, "  %ssensitive%s  %s\n", c(colorRed), c(colorReset), domain.CanonicalName(e.Name, f.Name))
		}
	}

	for _, ds := range cat.Datasets() {
		fmt.Fprintf(w, "\n%sdataset %s%s (%s)\n", c(colorCyan), ds.Name, c(colorReset), ds.From)
		for _, m := range ds.Metrics {
			fmt.Fprintf(w, "  %smetric%s     %s [%s] %s%s%s\n",
				c(colorGreen), c(colorReset), domain.CanonicalName(ds.Name, m.Name), m.Agg, c(colorDim), synonyms(m.Synonyms), c(colorReset))
		}
		for _, td := range ds.TimeDimensions {
			fmt.Fprintf(w, "  time       %s [%s] %s%s%s\n",
				domain.CanonicalName(ds.Name, td.Name), grainOrDash(td.Grain), c(colorDim), synonyms(td.Synonyms), c(colorReset))
		}
		for _, d := range ds.Dimensions {
			fmt.Fprintf(w, "  dimension  %s %s%s%s\n", domain.CanonicalName(ds.Name, d.Name), c(colorDim), synonyms(d.Synonyms), c(colorReset))
		}
		for _, j := range ds.Joins {
			fmt.Fprintf(w, "  join       %s ON %s\n", j.Entity, j.On)
		}
		if ds.FillGapsWithCalendar {
			fmt.Fprintf(w, "  %sfills gaps with calendar%s\n", c(colorDim), c(colorReset))
		}
	}

	gov := cat.Governance()
	fmt.Fprintf(w, "\n%sGovernance:%s require_time_filter=%t max_rows=%d timeout_seconds=%d\n",
		c(colorDim), c(colorReset), gov.RequireTimeFilter, gov.MaxRows, gov.TimeoutSeconds)
}

func synonyms(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return "(" + strings.Join(s, ", ") + ")"
}

func grainOrDash(g string) string {
	if g == "" {
		return "-"
	}
	return g
}

// CatalogSummary is the JSON view of a catalog.
type CatalogSummary struct {
	Entities   []EntitySummary   `json:"entities"`
	Datasets   []DatasetSummary  `json:"datasets"`
	Governance domain.Governance `json:"governance"`
}

// EntitySummary lists an entity's canonical field names.
type EntitySummary struct {
	Name            string   `json:"name"`
	Table           string   `json:"table"`
	Kind            string   `json:"kind"`
	Fields          []string `json:"fields"`
	SensitiveFields []string `json:"sensitive_fields"`
}

// DatasetSummary lists a dataset's canonical object names.
type DatasetSummary struct {
	Name                 string   `json:"name"`
	From                 string   `json:"from"`
	Metrics              []string `json:"metrics"`
	Dimensions           []string `json:"dimensions"`
	TimeDimensions       []string `json:"time_dimensions"`
	Joins                []string `json:"joins"`
	FillGapsWithCalendar bool     `json:"fill_gaps_with_calendar"`
}

// Summarize builds the JSON view of cat.
func Summarize(cat *domain.Catalog) CatalogSummary {
	s := CatalogSummary{
		Entities:   []EntitySummary{},
		Datasets:   []DatasetSummary{},
		Governance: cat.Governance(),
	}
	for _, e := range cat.Entities() {
		es := EntitySummary{Name: e.Name, Table: e.Table, Kind: string(e.Kind), Fields: []string{}, SensitiveFields: []string{}}
		for _, f := range e.Fields {
			es.Fields = append(es.Fields, domain.CanonicalName(e.Name, f.Name))
		}
		for _, f := range e.SensitiveFields {
			es.SensitiveFields = append(es.SensitiveFields, domain.CanonicalName(e.Name, f.Name))
		}
		s.Entities = append(s.Entities, es)
	}
	for _, ds := range cat.Datasets() {
		s.Datasets = append(s.Datasets, SummarizeDataset(ds))
	}
	return s
}

// SummarizeDataset builds the JSON view of one dataset.
func SummarizeDataset(ds domain.Dataset) DatasetSummary {
	out := DatasetSummary{
		Name:                 ds.Name,
		From:                 ds.From,
		Metrics:              []string{},
		Dimensions:           []string{},
		TimeDimensions:       []string{},
		Joins:                []string{},
		FillGapsWithCalendar: ds.FillGapsWithCalendar,
	}
	for _, m := range ds.Metrics {
		out.Metrics = append(out.Metrics, domain.CanonicalName(ds.Name, m.Name))
	}
	for _, d := range ds.Dimensions {
		out.Dimensions = append(out.Dimensions, domain.CanonicalName(ds.Name, d.Name))
	}
	for _, d := range ds.TimeDimensions {
		out.TimeDimensions = append(out.TimeDimensions, domain.CanonicalName(ds.Name, d.Name))
	}
	for _, j := range ds.Joins {
		out.Joins = append(out.Joins, j.Entity)
	}
	return out
}

// FormatCatalogJSON writes the catalog summary as JSON to w.
func FormatCatalogJSON(w io.Writer, cat *domain.Catalog) error {
	data, err := json.MarshalIndent(Summarize(cat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// FormatIssues writes validation problems, one per line.
func FormatIssues(w io.Writer, errs []ValidationError, noColor bool) {
	mark := "✗"
	if !noColor {
		mark = colorRed + mark + colorReset
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  %s %s\n", mark, e.Error())
	}
}
