package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"smartbi/internal/domain"
)

// RateLimitedEmbedder throttles outbound embedding calls with a token bucket.
type RateLimitedEmbedder struct {
	next    domain.Embedder
	limiter *rate.Limiter
}

var _ domain.Embedder = (*RateLimitedEmbedder)(nil)

// RateLimited wraps next so that at most rps calls per second (with the given
// burst) reach it. A non-positive rps returns next unchanged.
func RateLimited(next domain.Embedder, rps float64, burst int) domain.Embedder {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Embed waits for a token, or for ctx to end, before delegating.
func (e *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return e.next.Embed(ctx, texts)
}
