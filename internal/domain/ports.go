package domain

import "context"

// Embedder turns texts into dense vectors, one per input, in input order.
// Implemented by retrieval.OpenAIEmbedder and retrieval.GenAIEmbedder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RerankResult scores one document by its position in the reranked input.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker reorders documents by relevance to a query, best first.
// Implemented by retrieval.HTTPReranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}
