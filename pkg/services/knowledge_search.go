package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
	"github.com/askwise-inc/askwise-engine/pkg/similarity"
)

// FactMatch pairs a knowledge fact with its similarity to a query.
type FactMatch struct {
	Fact       *models.WisdomFact
	Similarity float64
}

// KnowledgeSearchService provides semantic retrieval over validated
// knowledge. Used standalone for gap analysis and as the input stage of the
// turbo answer path.
type KnowledgeSearchService interface {
	// Search returns facts whose similarity to the query meets minSimilarity,
	// best first, at most limit entries. Archived, inactive and expired facts
	// never appear.
	Search(ctx context.Context, orgID uuid.UUID, query string, minSimilarity float64, limit int) ([]FactMatch, error)
}

type knowledgeSearchService struct {
	factRepo repositories.FactRepository
	embedder *embedding.Chain
	logger   *zap.Logger
}

// NewKnowledgeSearchService creates a new KnowledgeSearchService.
func NewKnowledgeSearchService(
	factRepo repositories.FactRepository,
	embedder *embedding.Chain,
	logger *zap.Logger,
) KnowledgeSearchService {
	return &knowledgeSearchService{
		factRepo: factRepo,
		embedder: embedder,
		logger:   logger.Named("knowledge-search"),
	}
}

var _ KnowledgeSearchService = (*knowledgeSearchService)(nil)

func (s *knowledgeSearchService) Search(ctx context.Context, orgID uuid.UUID, query string, minSimilarity float64, limit int) ([]FactMatch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	queryVec, backend, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := s.factRepo.ListSearchable(ctx, orgID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list searchable facts: %w", err)
	}

	// Vectors from different backends are not comparable; only candidates
	// embedded by the same backend as the query participate.
	comparable := make([]*repositories.SearchableFact, 0, len(candidates))
	vectors := make([][]float32, 0, len(candidates))
	for _, c := range candidates {
		if c.Backend != backend {
			continue
		}
		comparable = append(comparable, c)
		vectors = append(vectors, c.Embedding)
	}

	ranked := similarity.Rank(queryVec, vectors)

	matches := make([]FactMatch, 0, limit)
	for _, r := range ranked {
		if r.Score < minSimilarity {
			break
		}
		matches = append(matches, FactMatch{
			Fact:       comparable[r.Index].Fact,
			Similarity: r.Score,
		})
		if len(matches) == limit {
			break
		}
	}

	s.logger.Debug("Knowledge search completed",
		zap.String("org_id", orgID.String()),
		zap.String("backend", backend),
		zap.Int("candidates", len(comparable)),
		zap.Int("matches", len(matches)))

	return matches, nil
}
