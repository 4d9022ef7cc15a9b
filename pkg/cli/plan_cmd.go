package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"smartbi/internal/declarative"
	"smartbi/internal/domain"
	"smartbi/internal/service/semantic"
	"smartbi/internal/sqlguard"
)

// ANSI color codes.
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorBold  = "\033[1m"
)

func defaultCatalogPath() string {
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		return v
	}
	return "semantic.yaml"
}

func newPlanCmd() *cobra.Command {
	var (
		catalogPath string
		requestPath string
		noGuard     bool
		features    domain.Features
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Match, validate and compile one request offline",
		Long: `Runs the planning pipeline against a local catalog file.

The request is either a JSON document {"features": {...}, "selection": {...}}
read from --request (use "-" for stdin), or built from the feature flags.`,
		Example: `  smartbi plan --metric 存款餘額 --dimension 地區 --start 2024-01-01 --end 2024-01-31
  smartbi plan --request request.json -o json
  cat request.json | smartbi plan --request -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			featureFlags := cmd.Flags().Changed("metric") || cmd.Flags().Changed("dimension") ||
				cmd.Flags().Changed("filter") || cmd.Flags().Changed("start") || cmd.Flags().Changed("end")
			if requestPath != "" && featureFlags {
				return fmt.Errorf("--request cannot be combined with feature flags")
			}

			req := semantic.Request{Features: features}
			if requestPath != "" {
				r, err := readRequest(cmd.InOrStdin(), requestPath)
				if err != nil {
					return err
				}
				req = r
			}

			cat, err := declarative.LoadCatalogFile(catalogPath)
			if err != nil {
				return err
			}
			opts := semantic.Options{
				Logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})),
			}
			if !noGuard {
				g, err := sqlguard.New()
				if err != nil {
					return err
				}
				defer func() { _ = g.Close() }()
				opts.Guard = g.Check
			}
			res, err := semantic.NewService(cat, opts).Plan(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resolveOutput(cmd, out) == "json" {
				return PrintJSON(out, res)
			}
			printResult(out, res, !useColor(cmd, out))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", defaultCatalogPath(), "Path to the semantic layer YAML (env CATALOG_PATH)")
	cmd.Flags().StringVar(&requestPath, "request", "", `Request JSON file, or "-" for stdin`)
	cmd.Flags().BoolVar(&noGuard, "no-guard", false, "Skip re-parsing the compiled SQL")
	cmd.Flags().StringArrayVar(&features.Metrics, "metric", nil, "Metric mention (repeatable)")
	cmd.Flags().StringArrayVar(&features.Dimensions, "dimension", nil, "Dimension mention (repeatable)")
	cmd.Flags().StringArrayVar(&features.Filters, "filter", nil, `Filter text such as "地區 = 澳門半島" (repeatable)`)
	cmd.Flags().StringVar(&features.TimeStart, "start", "", "Time window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&features.TimeEnd, "end", "", "Time window end (YYYY-MM-DD)")

	return cmd
}

func readRequest(stdin io.Reader, path string) (semantic.Request, error) {
	var req semantic.Request
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path) //nolint:gosec // intentional: reading user-specified request files
		if err != nil {
			return req, fmt.Errorf("open request: %w", err)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode request %s: %w", path, err)
	}
	return req, nil
}

func printResult(w io.Writer, res *semantic.Result, noColor bool) {
	c := func(code string) string {
		if noColor {
			return ""
		}
		return code
	}

	section := func(title string) {
		_, _ = fmt.Fprintf(w, "\n%s%s%s\n", c(colorBold), title, c(colorReset))
	}

	section("Matches")
	rows := make([][]string, 0, len(res.Matches.Matches)+len(res.Matches.Blocked))
	for _, m := range append(append([]domain.CandidateMatch{}, res.Matches.Matches...), res.Matches.Blocked...) {
		score := ""
		if m.Score != nil {
			score = fmt.Sprintf("%.3f", *m.Score)
		}
		rows = append(rows, []string{m.Token, string(m.ObjectType), m.CanonicalName, string(m.Source), score, fmt.Sprintf("%t", m.Allowed)})
	}
	PrintTable(w, []string{"token", "type", "canonical", "source", "score", "allowed"}, rows)

	plan := res.Plan
	section("Plan")
	_, _ = fmt.Fprintf(w, "  dataset     %s\n", orDash(plan.PrimaryDataset()))
	_, _ = fmt.Fprintf(w, "  metrics     %s\n", orDash(strings.Join(plan.SelectedMetrics, ", ")))
	_, _ = fmt.Fprintf(w, "  dimensions  %s\n", orDash(strings.Join(plan.SelectedDimensions, ", ")))
	for i, f := range plan.SelectedFilters {
		label := "filters"
		if i > 0 {
			label = ""
		}
		_, _ = fmt.Fprintf(w, "  %-10s  %s\n", label, describeFilter(f))
	}
	if plan.TimeAxis != nil {
		_, _ = fmt.Fprintf(w, "  time axis   %s .. %s\n", orDash(plan.TimeAxis.Start), orDash(plan.TimeAxis.End))
	}
	for _, r := range plan.RejectedCandidates {
		_, _ = fmt.Fprintf(w, "  %srejected%s    %s (%s)\n", c(colorRed), c(colorReset), r.CanonicalName, r.Reason)
	}
	for _, q := range plan.ClarificationQuestions {
		_, _ = fmt.Fprintf(w, "  clarify     %s\n", q)
	}

	section("Validation")
	if res.Validation.OK {
		_, _ = fmt.Fprintf(w, "  %s✓ ok%s\n", c(colorGreen), c(colorReset))
	}
	for i, code := range res.Validation.ErrorCodes {
		msg := ""
		if i < len(res.Validation.Errors) {
			msg = res.Validation.Errors[i]
		}
		_, _ = fmt.Fprintf(w, "  %s✗ %s%s  %s\n", c(colorRed), code, c(colorReset), msg)
	}

	if res.SQL != "" {
		section("SQL")
		_, _ = fmt.Fprintln(w, res.SQL)
	}
}

func describeFilter(f domain.Filter) string {
	switch f := f.(type) {
	case domain.FieldOp:
		switch {
		case f.Value.IsAbsent():
			return fmt.Sprintf("%s %s", f.Field, f.Op)
		case f.Value.IsList():
			items := make([]string, 0, len(f.Value.Items()))
			for _, l := range f.Value.Items() {
				items = append(items, l.SQL())
			}
			return fmt.Sprintf("%s %s (%s)", f.Field, f.Op, strings.Join(items, ", "))
		default:
			l, _ := f.Value.Scalar()
			return fmt.Sprintf("%s %s %s", f.Field, f.Op, l.SQL())
		}
	case domain.RawExpr:
		return f.Expr
	default:
		return "?"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
