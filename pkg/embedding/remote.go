package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/askwise-inc/askwise-engine/pkg/llm"
)

// RemoteProvider embeds via a networked inference service. Outbound calls are
// bounded by the client's timeout and by a rate limiter so a burst of
// submissions cannot saturate the backend.
type RemoteProvider struct {
	client    llm.EmbeddingClient
	limiter   *rate.Limiter
	name      string
	dimension int
}

// NewRemoteProvider wraps an embedding client. requestsPerSecond <= 0
// disables rate limiting.
func NewRemoteProvider(client llm.EmbeddingClient, name string, dimension int, requestsPerSecond float64) *RemoteProvider {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &RemoteProvider{
		client:    client,
		limiter:   limiter,
		name:      name,
		dimension: dimension,
	}
}

var _ Provider = (*RemoteProvider)(nil)

// Embed implements Provider.
func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	vec, err := p.client.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("backend returned dimension %d, want %d", len(vec), p.dimension)
	}
	return vec, nil
}

// Name implements Provider.
func (p *RemoteProvider) Name() string { return p.name }

// Dimension implements Provider.
func (p *RemoteProvider) Dimension() int { return p.dimension }
