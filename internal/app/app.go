// Package app provides application-level wiring and dependency injection
// for the planning server and CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartbi/internal/config"
	"smartbi/internal/declarative"
	"smartbi/internal/domain"
	"smartbi/internal/retrieval"
	"smartbi/internal/service/semantic"
	"smartbi/internal/sqlguard"
)

// corpusTimeout bounds the startup embedding of the catalog corpus.
const corpusTimeout = time.Minute

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger

	// Catalog overrides loading Cfg.CatalogPath when set.
	Catalog *domain.Catalog
	// Embedder and Reranker override the configured retrieval clients.
	Embedder domain.Embedder
	Reranker domain.Reranker
}

// App holds the fully-wired application.
type App struct {
	Catalog  *domain.Catalog
	Semantic *semantic.Service

	guard *sqlguard.Guard
}

// New loads the catalog, builds the retrieval clients and wires the planning
// service. Corpus embedding runs once here; a failure leaves the service on
// exact matching.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat := deps.Catalog
	if cat == nil {
		loaded, err := declarative.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		cat = loaded
	}
	logger.Info("catalog loaded",
		"path", cfg.CatalogPath,
		"entities", len(cat.Entities()),
		"datasets", len(cat.Datasets()))

	embedder, reranker := deps.Embedder, deps.Reranker
	if embedder == nil {
		var err error
		embedder, err = newEmbedder(ctx, cfg.Retrieval, logger)
		if err != nil {
			return nil, err
		}
	}
	if reranker == nil && embedder != nil && cfg.Retrieval.RerankURL != "" {
		rr, err := retrieval.NewHTTPReranker(retrieval.RerankConfig{
			BaseURL: cfg.Retrieval.RerankURL,
			APIKey:  cfg.Retrieval.RerankAPIKey,
			Model:   cfg.Retrieval.RerankModel,
		})
		if err != nil {
			return nil, fmt.Errorf("reranker: %w", err)
		}
		reranker = rr
	}

	var (
		guard   semantic.SQLGuard
		checker *sqlguard.Guard
	)
	if cfg.SQLGuard {
		g, err := sqlguard.New()
		if err != nil {
			return nil, fmt.Errorf("sql guard: %w", err)
		}
		checker, guard = g, g.Check
	}

	svc := semantic.NewService(cat, semantic.Options{
		Matcher: semantic.MatcherOptions{
			Embedder: embedder,
			Reranker: reranker,
			TopK:     cfg.Retrieval.TopK,
			MinScore: cfg.Retrieval.MinScore,
			Timeout:  cfg.Retrieval.Timeout,
		},
		Guard:  guard,
		Logger: logger,
	})

	if embedder != nil {
		prepCtx, cancel := context.WithTimeout(ctx, corpusTimeout)
		defer cancel()
		if err := svc.PrepareCorpus(prepCtx); err != nil {
			logger.Warn("corpus embedding failed; approximate matching will embed per request", "error", err)
		}
	}

	return &App{Catalog: cat, Semantic: svc, guard: checker}, nil
}

// Close releases the SQL guard's parser instance.
func (a *App) Close() error {
	if a.guard == nil {
		return nil
	}
	return a.guard.Close()
}

// newEmbedder returns nil when no provider is configured.
func newEmbedder(ctx context.Context, rc config.RetrievalConfig, logger *slog.Logger) (domain.Embedder, error) {
	var embedder domain.Embedder
	switch rc.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		e, err := retrieval.NewOpenAIEmbedder(retrieval.OpenAIConfig{
			BaseURL: rc.EmbeddingURL,
			APIKey:  rc.EmbeddingAPIKey,
			Model:   rc.EmbeddingModel,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		embedder = e
	case config.ProviderGenAI:
		e, err := retrieval.NewGenAIEmbedder(ctx, retrieval.GenAIConfig{
			APIKey:  rc.EmbeddingAPIKey,
			Model:   rc.EmbeddingModel,
			BaseURL: rc.EmbeddingURL,
		})
		if err != nil {
			return nil, fmt.Errorf("genai embedder: %w", err)
		}
		embedder = e
	default:
		return nil, fmt.Errorf("unknown retrieval provider %q", rc.Provider)
	}
	logger.Info("approximate matching enabled", "provider", rc.Provider, "top_k", rc.TopK, "timeout", rc.Timeout)
	return retrieval.RateLimited(embedder, rc.RPS, 1), nil
}
