package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"smartbi/internal/domain"
)

const defaultRerankModel = "rerank-v1"

// RerankConfig configures a /rerank endpoint.
type RerankConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// HTTPReranker calls POST {base}/rerank.
type HTTPReranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

var _ domain.Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewHTTPReranker validates cfg and builds a reranker.
func NewHTTPReranker(cfg RerankConfig) (*HTTPReranker, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, domain.ErrValidation("rerank base URL is required")
	}
	r := &HTTPReranker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  cfg.HTTPClient,
	}
	if r.model == "" {
		r.model = defaultRerankModel
	}
	if r.client == nil {
		r.client = newHTTPClient(30 * time.Second)
	}
	return r, nil
}

// Rerank returns at most topN results, best first. Indices refer to
// positions in documents.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]domain.RerankResult, error) {
	if len(documents) == 0 {
		return []domain.RerankResult{}, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	req := rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}
	var resp rerankResponse
	if err := postJSON(ctx, r.client, r.baseURL+"/rerank", r.apiKey, req, &resp); err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	out := make([]domain.RerankResult, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: invalid result index %d", res.Index)
		}
		out = append(out, domain.RerankResult{Index: res.Index, Score: res.RelevanceScore})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}
