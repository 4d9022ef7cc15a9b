package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbi/internal/domain"
)

func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  OpenAIConfig
	}{
		{name: "missing base url", cfg: OpenAIConfig{Model: "m"}},
		{name: "missing model", cfg: OpenAIConfig{BaseURL: "http://x"}},
		{name: "negative dimensions", cfg: OpenAIConfig{BaseURL: "http://x", Model: "m", Dimensions: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOpenAIEmbedder(tc.cfg)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.NotNil(t, req.Dimensions)
		assert.Equal(t, 2, *req.Dimensions)

		mu.Lock()
		batches = append(batches, req.Input)
		mu.Unlock()

		// Respond out of order to prove index-based placement.
		type item struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Embedding: []float64{float64(len(req.Input[i])), 1}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    srv.URL + "/v1/",
		APIKey:     "secret",
		Model:      "text-embedding-3-small",
		Dimensions: 2,
		BatchSize:  2,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	got, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}, {4, 1}, {5, 1}}, got)
	assert.Len(t, batches, 3)
}

func TestOpenAIEmbedder_Empty(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})
	require.NoError(t, err)
	got, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "api error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
				assert.Equal(t, "invalid api key", apiErr.Message)
			},
		},
		{
			name: "plain error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "upstream down", apiErr.Message)
			},
		},
		{
			name: "short response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "got 1 embeddings for 2 inputs")
			},
		},
		{
			name: "duplicate index",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "missing embedding for input 1")
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "m", HTTPClient: srv.Client()})
			require.NoError(t, err)
			_, err = e.Embed(context.Background(), []string{"x", "y"})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestHTTPReranker_Rerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultRerankModel, req.Model)
		assert.Equal(t, "存款", req.Query)
		assert.Equal(t, 2, req.TopN)
		assert.False(t, req.ReturnDocuments)
		_, _ = w.Write([]byte(`{"results":[
			{"index":0,"relevance_score":0.2},
			{"index":2,"relevance_score":0.9},
			{"index":1,"relevance_score":0.5}
		]}`))
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(RerankConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	got, err := r.Rerank(context.Background(), "存款", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.RerankResult{{Index: 2, Score: 0.9}, {Index: 1, Score: 0.5}}, got)
}

func TestHTTPReranker_InvalidIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.2}]}`))
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(RerankConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.ErrorContains(t, err, "invalid result index 7")
}

func TestNewHTTPReranker_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPReranker(RerankConfig{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGenAIEmbedder_Embed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":batchEmbedContents"), r.URL.Path)
		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		embeddings := make([]map[string]any, len(body.Requests))
		for i := range body.Requests {
			embeddings[i] = map[string]any{"values": []float32{float32(i), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewGenAIEmbedder(context.Background(), GenAIConfig{APIKey: "k", Model: "test-embedding", BaseURL: srv.URL})
	require.NoError(t, err)

	got, err := e.Embed(context.Background(), []string{"營收", "存款"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewGenAIEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewGenAIEmbedder(context.Background(), GenAIConfig{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

type countingEmbedder struct{ calls atomic.Int32 }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return make([][]float32, len(texts)), nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, domain.Embedder(inner), RateLimited(inner, 0, 0))

	limited := RateLimited(inner, 1, 1)
	_, err := limited.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Embed(ctx, []string{"b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "would exceed context deadline"))
	assert.Equal(t, int32(1), inner.calls.Load())
}
