package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"smartbi/internal/domain"
)

const (
	defaultTopK             = 5
	defaultRetrievalTimeout = 2 * time.Second
)

// MatcherOptions configures the optional approximate retrieval path. With a
// nil Embedder the matcher is exact-only.
type MatcherOptions struct {
	Embedder domain.Embedder
	Reranker domain.Reranker
	TopK     int
	// MinScore drops documents whose cosine similarity is below it. Zero or
	// less disables the cut, so negatively correlated documents can still
	// fill TopK.
	MinScore float64
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Matcher resolves extracted feature strings to catalog objects.
type Matcher struct {
	index    *AliasIndex
	embedder domain.Embedder
	reranker domain.Reranker
	topK     int
	minScore float64
	timeout  time.Duration
	logger   *slog.Logger

	corpusVectors atomic.Pointer[[][]float32]
}

// NewMatcher creates a Matcher over a prebuilt alias index.
func NewMatcher(index *AliasIndex, opts MatcherOptions) *Matcher {
	m := &Matcher{
		index:    index,
		embedder: opts.Embedder,
		reranker: opts.Reranker,
		topK:     opts.TopK,
		minScore: opts.MinScore,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	if m.topK <= 0 {
		m.topK = defaultTopK
	}
	if m.timeout <= 0 {
		m.timeout = defaultRetrievalTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// PrepareCorpus embeds the catalog documents once so that later Match calls
// only embed the query. Without it every Match embeds the corpus as well.
func (m *Matcher) PrepareCorpus(ctx context.Context) error {
	if m.embedder == nil {
		return nil
	}
	docs := m.index.Corpus()
	if len(docs) == 0 {
		return nil
	}
	vectors, err := m.embedder.Embed(ctx, documentTexts(docs))
	if err != nil {
		return fmt.Errorf("embed catalog corpus: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embed catalog corpus: got %d vectors for %d documents", len(vectors), len(docs))
	}
	m.corpusVectors.Store(&vectors)
	m.logger.Info("catalog corpus embedded", "documents", len(docs))
	return nil
}

// Match runs the exact alias path and, when configured, the approximate
// path. Approximate failures never surface: the exact result is returned.
func (m *Matcher) Match(ctx context.Context, features domain.Features) domain.MatchResult {
	res := m.matchExact(features)
	if m.embedder == nil {
		return res
	}

	retrieved, err := m.retrieveBounded(ctx, features)
	if err != nil {
		m.logger.Warn("approximate matching degraded to exact matches", "error", err)
		return res
	}

	seen := make(map[string]bool, len(res.Matches)+len(res.Blocked))
	for _, c := range res.Matches {
		seen[c.CanonicalName] = true
	}
	for _, c := range res.Blocked {
		seen[c.CanonicalName] = true
	}
	for _, c := range retrieved {
		if seen[c.CanonicalName] {
			continue
		}
		seen[c.CanonicalName] = true
		res.Matches = append(res.Matches, c)
	}
	return res
}

func (m *Matcher) matchExact(features domain.Features) domain.MatchResult {
	res := domain.MatchResult{Matches: []domain.CandidateMatch{}, Blocked: []domain.CandidateMatch{}}
	type key struct {
		typ domain.ObjectType
		cn  string
	}
	seen := make(map[key]bool)

	groups := [][]string{features.Tokens, features.Metrics, features.Dimensions, features.Filters}
	for _, group := range groups {
		for _, raw := range group {
			token := strings.TrimSpace(raw)
			if token == "" {
				continue
			}
			for _, t := range m.index.lookup(token) {
				k := key{t.objectType, t.canonicalName}
				if seen[k] {
					continue
				}
				seen[k] = true
				c := domain.CandidateMatch{
					Token:         token,
					ObjectType:    t.objectType,
					CanonicalName: t.canonicalName,
					Dataset:       t.dataset,
					Entity:        t.entity,
					Allowed:       t.objectType != domain.ObjectSensitiveField,
					Source:        domain.SourceExact,
				}
				if c.Allowed {
					res.Matches = append(res.Matches, c)
				} else {
					res.Blocked = append(res.Blocked, c)
				}
			}
		}
	}
	return res
}

type retrieval struct {
	matches []domain.CandidateMatch
	err     error
}

// retrieveBounded returns once retrieval finishes or the timeout elapses,
// whichever comes first, even if the embedder ignores cancellation.
func (m *Matcher) retrieveBounded(ctx context.Context, features domain.Features) ([]domain.CandidateMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan retrieval, 1)
	go func() {
		matches, err := m.retrieve(ctx, features)
		done <- retrieval{matches: matches, err: err}
	}()

	select {
	case r := <-done:
		return r.matches, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("approximate retrieval: %w", ctx.Err())
	}
}

func (m *Matcher) retrieve(ctx context.Context, features domain.Features) ([]domain.CandidateMatch, error) {
	query := queryText(features)
	docs := m.index.Corpus()
	if query == "" || len(docs) == 0 {
		return nil, nil
	}

	var queryVec []float32
	docVectors := m.corpusVectors.Load()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vs, err := m.embedder.Embed(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vs) != 1 {
			return fmt.Errorf("embed query: got %d vectors", len(vs))
		}
		queryVec = vs[0]
		return nil
	})
	if docVectors == nil {
		g.Go(func() error {
			vs, err := m.embedder.Embed(gctx, documentTexts(docs))
			if err != nil {
				return fmt.Errorf("embed corpus: %w", err)
			}
			if len(vs) != len(docs) {
				return fmt.Errorf("embed corpus: got %d vectors for %d documents", len(vs), len(docs))
			}
			docVectors = &vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked, err := topK(queryVec, *docVectors, m.topK, m.minScore)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	source := domain.SourceEmbedding
	if m.reranker != nil {
		texts := make([]string, len(ranked))
		for i, r := range ranked {
			texts[i] = docs[r.Index].Text
		}
		results, err := m.reranker.Rerank(ctx, query, texts, len(ranked))
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
		reranked := make([]domain.RerankResult, 0, len(results))
		for _, r := range results {
			if r.Index < 0 || r.Index >= len(ranked) {
				return nil, errors.New("rerank: result index out of range")
			}
			reranked = append(reranked, domain.RerankResult{Index: ranked[r.Index].Index, Score: r.Score})
		}
		ranked = reranked
		source = domain.SourceEmbeddingReranker
	}

	out := make([]domain.CandidateMatch, 0, len(ranked))
	for _, r := range ranked {
		d := docs[r.Index]
		score := r.Score
		out = append(out, domain.CandidateMatch{
			Token:         query,
			ObjectType:    d.ObjectType,
			CanonicalName: d.CanonicalName,
			Dataset:       d.Dataset,
			Entity:        d.Entity,
			Allowed:       true,
			Score:         &score,
			Source:        source,
		})
	}
	return out, nil
}

// queryText prefers the raw question and falls back to the extracted strings.
func queryText(f domain.Features) string {
	if q := strings.TrimSpace(f.QueryText); q != "" {
		return q
	}
	var parts []string
	for _, group := range [][]string{f.Tokens, f.Metrics, f.Dimensions, f.Filters} {
		for _, s := range group {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func documentTexts(docs []Document) []string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return texts
}

// cosineSimilarity returns a value in [-1, 1]; zero vectors score 0.
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// topK ranks corpus vectors by cosine similarity, best first; ties keep
// corpus order.
func topK(query []float32, corpus [][]float32, k int, minScore float64) ([]domain.RerankResult, error) {
	scored := make([]domain.RerankResult, 0, len(corpus))
	for i, v := range corpus {
		s, err := cosineSimilarity(query, v)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if minScore > 0 && s < minScore {
			continue
		}
		scored = append(scored, domain.RerankResult{Index: i, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
