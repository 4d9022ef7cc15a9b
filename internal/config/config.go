// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Retrieval providers for the approximate matching path.
const (
	ProviderNone   = ""
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
)

// RetrievalConfig holds embedding and rerank settings for approximate matching.
type RetrievalConfig struct {
	Provider        string // "" (exact matching only), "openai" or "genai"
	EmbeddingURL    string // OpenAI-compatible base URL, e.g. https://api.openai.com/v1
	EmbeddingAPIKey string
	EmbeddingModel  string
	RerankURL       string // optional; empty disables reranking
	RerankAPIKey    string
	RerankModel     string
	TopK            int           // candidates kept after similarity ranking (default 5)
	MinScore        float64       // minimum cosine similarity; 0 (default) disables the cut
	Timeout         time.Duration // bound on the whole approximate path (default 2s)
	RPS             float64       // outbound embedding calls per second (default 10, 0 = unlimited)
}

// Enabled returns true when an embedding provider is configured.
func (r *RetrievalConfig) Enabled() bool {
	return r.Provider != ProviderNone
}

// Config holds the configuration for the planning API and CLI.
type Config struct {
	ListenAddr  string // HTTP listen address (default ":8080")
	CatalogPath string // semantic layer YAML (default "semantic.yaml")
	LogLevel    string // log level: debug, info, warn, error (default "info")
	Env         string // environment: "development" (default) or "production"

	// SQLGuard re-parses every compiled statement before returning it (default true).
	SQLGuard bool

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Retrieval RetrievalConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
// Retrieval variables are optional: without a provider only exact alias
// matching runs.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		CatalogPath: os.Getenv("CATALOG_PATH"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Env:         os.Getenv("ENV"),
		SQLGuard:    parseBoolEnvDefault("SQL_GUARD", true),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Retrieval
	cfg.Retrieval = RetrievalConfig{
		Provider:        strings.ToLower(strings.TrimSpace(os.Getenv("RETRIEVAL_PROVIDER"))),
		EmbeddingURL:    os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:  os.Getenv("EMBEDDING_MODEL"),
		RerankURL:       os.Getenv("RERANK_BASE_URL"),
		RerankAPIKey:    os.Getenv("RERANK_API_KEY"),
		RerankModel:     os.Getenv("RERANK_MODEL"),
		TopK:            5,
		Timeout:         2 * time.Second,
		RPS:             10,
	}
	if v := os.Getenv("RETRIEVAL_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RETRIEVAL_TOP_K must be a positive integer, got %q", v)
		}
		cfg.Retrieval.TopK = n
	}
	if v := os.Getenv("RETRIEVAL_MIN_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RETRIEVAL_MIN_SCORE: %w", err)
		}
		cfg.Retrieval.MinScore = f
	}
	if v := os.Getenv("RETRIEVAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("RETRIEVAL_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.Retrieval.Timeout = d
	}
	if v := os.Getenv("RETRIEVAL_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.RPS = f
		}
	}

	switch cfg.Retrieval.Provider {
	case ProviderNone:
	case ProviderOpenAI:
		if cfg.Retrieval.EmbeddingURL == "" {
			return nil, fmt.Errorf("EMBEDDING_BASE_URL is required when RETRIEVAL_PROVIDER=openai")
		}
		if cfg.Retrieval.EmbeddingModel == "" {
			return nil, fmt.Errorf("EMBEDDING_MODEL is required when RETRIEVAL_PROVIDER=openai")
		}
	case ProviderGenAI:
		if cfg.Retrieval.EmbeddingAPIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY is required when RETRIEVAL_PROVIDER=genai")
		}
	default:
		return nil, fmt.Errorf("unknown RETRIEVAL_PROVIDER %q (want openai or genai)", cfg.Retrieval.Provider)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "semantic.yaml"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if !cfg.SQLGuard {
		cfg.Warnings = append(cfg.Warnings, "SQL_GUARD is disabled; compiled SQL is returned without re-validation")
	}
	if cfg.Retrieval.Enabled() && cfg.Retrieval.RerankURL == "" {
		cfg.Warnings = append(cfg.Warnings, "RERANK_BASE_URL not set; approximate matches are ranked by similarity only")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.Retrieval.Provider == ProviderOpenAI && cfg.Retrieval.EmbeddingAPIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY must be set in production when RETRIEVAL_PROVIDER=openai")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
