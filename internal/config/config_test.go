package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "CATALOG_PATH", "LOG_LEVEL", "ENV", "SQL_GUARD",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
		"RETRIEVAL_PROVIDER", "EMBEDDING_BASE_URL", "EMBEDDING_API_KEY", "EMBEDDING_MODEL",
		"RERANK_BASE_URL", "RERANK_API_KEY", "RERANK_MODEL",
		"RETRIEVAL_TOP_K", "RETRIEVAL_MIN_SCORE", "RETRIEVAL_TIMEOUT", "RETRIEVAL_RPS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "semantic.yaml", cfg.CatalogPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.SQLGuard)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.Retrieval.Enabled())
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.Timeout)
	assert.InDelta(t, 10, cfg.Retrieval.RPS, 0)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("CATALOG_PATH", "/etc/smartbi/semantic.yaml")
	t.Setenv("SQL_GUARD", "off")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RETRIEVAL_PROVIDER", "OpenAI")
	t.Setenv("EMBEDDING_BASE_URL", "http://localhost:8000/v1")
	t.Setenv("EMBEDDING_MODEL", "bge-m3")
	t.Setenv("RERANK_BASE_URL", "http://localhost:8001")
	t.Setenv("RETRIEVAL_TOP_K", "8")
	t.Setenv("RETRIEVAL_MIN_SCORE", "0.35")
	t.Setenv("RETRIEVAL_TIMEOUT", "750ms")
	t.Setenv("RETRIEVAL_RPS", "0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, "/etc/smartbi/semantic.yaml", cfg.CatalogPath)
	assert.False(t, cfg.SQLGuard)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, ProviderOpenAI, cfg.Retrieval.Provider)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.35, cfg.Retrieval.MinScore, 1e-9)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.Timeout)
	assert.InDelta(t, 0, cfg.Retrieval.RPS, 0)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "SQL_GUARD")
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"RETRIEVAL_PROVIDER": "bedrock"},
			wantErr: "unknown RETRIEVAL_PROVIDER",
		},
		{
			name:    "openai without base url",
			env:     map[string]string{"RETRIEVAL_PROVIDER": "openai", "EMBEDDING_MODEL": "m"},
			wantErr: "EMBEDDING_BASE_URL is required",
		},
		{
			name:    "genai without key",
			env:     map[string]string{"RETRIEVAL_PROVIDER": "genai"},
			wantErr: "EMBEDDING_API_KEY is required",
		},
		{
			name:    "non-positive top k",
			env:     map[string]string{"RETRIEVAL_TOP_K": "0"},
			wantErr: "RETRIEVAL_TOP_K",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"RETRIEVAL_TIMEOUT": "soon"},
			wantErr: "RETRIEVAL_TIMEOUT",
		},
		{
			name:    "production wildcard cors",
			env:     map[string]string{"ENV": "production"},
			wantErr: "CORS wildcard",
		},
		{
			name: "production openai without key",
			env: map[string]string{
				"ENV":                  "production",
				"CORS_ALLOWED_ORIGINS": "https://bi.example",
				"RETRIEVAL_PROVIDER":   "openai",
				"EMBEDDING_BASE_URL":   "https://api.example/v1",
				"EMBEDDING_MODEL":      "m",
			},
			wantErr: "EMBEDDING_API_KEY must be set in production",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadFromEnv_RerankWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETRIEVAL_PROVIDER", "genai")
	t.Setenv("EMBEDDING_API_KEY", "k")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "RERANK_BASE_URL")
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		cfg := &Config{LogLevel: tc.in}
		assert.Equal(t, tc.want, cfg.SlogLevel(), tc.in)
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_KEY=\"test_value\"\nexport TEST_EXPORTED=x\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("TEST_KEY", "")
	t.Setenv("TEST_EXPORTED", "")

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	assert.Equal(t, "test_value", os.Getenv("TEST_KEY"))
	assert.Equal(t, "x", os.Getenv("TEST_EXPORTED"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
