package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"smartbi/internal/domain"
)

// Request is one planning request: extracted features plus the untrusted
// proposer selection.
type Request struct {
	Features  domain.Features  `json:"features"`
	Selection domain.Selection `json:"selection"`
}

// Result carries every stage's output. SQL is set only when validation
// passed.
type Result struct {
	RequestID  string                  `json:"request_id"`
	Matches    domain.MatchResult      `json:"matches"`
	Plan       domain.QueryPlan        `json:"plan"`
	Validation domain.ValidationResult `json:"validation"`
	SQL        string                  `json:"sql,omitempty"`
}

// SQLGuard inspects compiled SQL before it leaves the service.
type SQLGuard func(ctx context.Context, sql string) error

// Options configures a Service.
type Options struct {
	Matcher MatcherOptions
	Guard   SQLGuard
	Logger  *slog.Logger
}

// Service runs match, merge, validate and compile over one catalog snapshot.
type Service struct {
	catalog *domain.Catalog
	index   *AliasIndex
	matcher *Matcher
	builder *PlanBuilder
	guard   SQLGuard
	logger  *slog.Logger
}

// NewService builds the alias index once and wires the pipeline stages.
func NewService(cat *domain.Catalog, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mopts := opts.Matcher
	if mopts.Logger == nil {
		mopts.Logger = logger
	}
	index := NewAliasIndex(cat)
	return &Service{
		catalog: cat,
		index:   index,
		matcher: NewMatcher(index, mopts),
		builder: NewPlanBuilder(cat, index),
		guard:   opts.Guard,
		logger:  logger,
	}
}

// Catalog returns the snapshot the service plans against.
func (s *Service) Catalog() *domain.Catalog { return s.catalog }

// PrepareCorpus precomputes catalog embeddings when retrieval is configured.
func (s *Service) PrepareCorpus(ctx context.Context) error {
	return s.matcher.PrepareCorpus(ctx)
}

// Plan runs the full pipeline. A failed validation is a normal Result with
// error codes; the returned error is reserved for cancellation, compiler
// contract violations and guard rejections.
func (s *Service) Plan(ctx context.Context, req Request) (*Result, error) {
	requestID := domain.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = domain.NewRequestID()
	}
	logger := s.logger.With("request_id", requestID)

	res := &Result{RequestID: requestID}
	res.Matches = s.matcher.Match(ctx, req.Features)
	logger.Debug("candidates matched", "matches", len(res.Matches.Matches), "blocked", len(res.Matches.Blocked))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Plan = s.builder.Merge(req.Selection, res.Matches, req.Features)
	logger.Debug("plan merged",
		"metrics", res.Plan.SelectedMetrics,
		"dimensions", res.Plan.SelectedDimensions,
		"dataset", res.Plan.PrimaryDataset(),
		"filters", len(res.Plan.SelectedFilters),
	)

	res.Validation = Validate(res.Plan, res.Matches, s.catalog.Governance(), s.catalog)
	if !res.Validation.OK {
		logger.Info("plan refused", "error_codes", res.Validation.ErrorCodes)
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sql, err := Compile(res.Plan, s.catalog)
	if err != nil {
		logger.Error("compile validated plan", "error", err)
		return nil, fmt.Errorf("compile plan: %w", err)
	}
	if s.guard != nil {
		if err := s.guard(ctx, sql); err != nil {
			logger.Error("compiled sql rejected by guard", "error", err)
			return nil, fmt.Errorf("guard compiled sql: %w", err)
		}
	}
	res.SQL = sql
	logger.Debug("plan compiled", "sql_bytes", len(sql))
	return res, nil
}
