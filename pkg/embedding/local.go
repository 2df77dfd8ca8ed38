package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/llm"
)

// LocalProvider embeds via a locally hosted model behind an OpenAI-compatible
// endpoint (Ollama, vLLM). The client is built lazily on first use, so the
// first call pays the model-load latency and startup never blocks on a local
// engine that may not be running.
type LocalProvider struct {
	cfg       llm.Config
	logger    *zap.Logger
	dimension int

	once   sync.Once
	client llm.EmbeddingClient
	initEr error
}

// NewLocalProvider creates the local backend. The endpoint is not contacted
// until the first Embed call.
func NewLocalProvider(cfg llm.Config, dimension int, logger *zap.Logger) *LocalProvider {
	return &LocalProvider{
		cfg:       cfg,
		logger:    logger,
		dimension: dimension,
	}
}

var _ Provider = (*LocalProvider)(nil)

// Embed implements Provider.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.once.Do(func() {
		client, err := llm.NewClient(&p.cfg, p.logger)
		if err != nil {
			p.initEr = fmt.Errorf("init local embedding client: %w", err)
			return
		}
		p.client = client
	})
	if p.initEr != nil {
		return nil, p.initEr
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
func (p *LocalProvider) Name() string { return "local" }

// Dimension implements Provider.
func (p *LocalProvider) Dimension() int { return p.dimension }
