// Package embedding turns text into fixed-length vectors through an ordered
// chain of backends. Higher-quality backends are tried first; the terminal
// hashing backend is deterministic and cannot fail, so the chain as a whole
// always produces a vector.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider generates a fixed-length embedding vector for a piece of text.
type Provider interface {
	// Embed returns a vector of length Dimension for the input text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the backend, recorded alongside stored embeddings.
	Name() string

	// Dimension is the length of every vector this provider produces.
	Dimension() int
}

// Chain tries each provider in order and returns the first success.
// Individual backend failures are logged at debug level and do not propagate.
// Vectors from different backends are not comparable; the chain records which
// backend produced each result so callers can pin comparisons to one backend.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain builds a fallback chain. The last provider must be infallible
// (in practice the hashing provider); the chain's dimension is taken from it
// and every provider must agree so stored vectors stay comparable.
func NewChain(logger *zap.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	dim := providers[len(providers)-1].Dimension()
	for _, p := range providers {
		if p.Dimension() != dim {
			return nil, fmt.Errorf("provider %s dimension %d does not match chain dimension %d",
				p.Name(), p.Dimension(), dim)
		}
	}
	return &Chain{
		providers: providers,
		logger:    logger.Named("embedding"),
	}, nil
}

// Embed runs the fallback chain. The returned backend name identifies which
// provider produced the vector. Never fails when the chain terminates in the
// hashing provider.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, string, error) {
	var lastErr error
	for _, p := range c.providers {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			// The input text is deliberately not logged.
			c.logger.Debug("embedding backend failed",
				zap.String("backend", p.Name()),
				zap.Error(err))
			lastErr = err
			continue
		}
		return vec, p.Name(), nil
	}
	return nil, "", fmt.Errorf("all embedding backends failed: %w", lastErr)
}

// Dimension is the vector length shared by all providers in the chain.
func (c *Chain) Dimension() int {
	return c.providers[len(c.providers)-1].Dimension()
}
