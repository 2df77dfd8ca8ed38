package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/models"
)

// SearchableFact pairs a fact with its stored embedding for knowledge search.
type SearchableFact struct {
	Fact      *models.WisdomFact
	Embedding []float32
	Backend   string
}

// FactRepository provides data access for wisdom facts and their embeddings.
type FactRepository interface {
	Create(ctx context.Context, fact *models.WisdomFact) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WisdomFact, error)
	UpsertEmbedding(ctx context.Context, emb *models.FactEmbedding) error

	// ListSearchable returns active, non-archived, unexpired facts for the
	// org together with their embeddings. Expiry is a calendar-day boundary,
	// as in ListMatchable. Facts without an embedding never appear in search
	// results.
	ListSearchable(ctx context.Context, orgID uuid.UUID, now time.Time) ([]*SearchableFact, error)

	// IncrementUsage bumps times_used atomically for every id.
	IncrementUsage(ctx context.Context, ids []uuid.UUID) error

	// Expiration sweep support. ListExpiring runs without org scope and
	// skips perpetual facts.
	ListExpiring(ctx context.Context) ([]ExpiringRecord, error)
	DeactivateByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type factRepository struct{}

// NewFactRepository creates a new FactRepository.
func NewFactRepository() FactRepository {
	return &factRepository{}
}

var _ FactRepository = (*factRepository)(nil)

const factColumns = `
	id, org_id, content, domain, tier, confidence_score, importance,
	expires_at, is_perpetual, is_active, times_used,
	created_by, created_at, updated_at`

func (r *factRepository) Create(ctx context.Context, fact *models.WisdomFact) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	if !fact.Tier.IsValid() {
		return fmt.Errorf("tier %q: %w", fact.Tier, apperrors.ErrInvalidTier)
	}

	now := time.Now()
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}
	fact.CreatedAt = now
	fact.UpdatedAt = now

	query := `
		INSERT INTO wisdom_facts (
			id, org_id, content, domain, tier, confidence_score, importance,
			expires_at, is_perpetual, is_active, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := scope.Conn.Exec(ctx, query,
		fact.ID, fact.OrgID, fact.Content, fact.Domain, string(fact.Tier),
		fact.ConfidenceScore, fact.Importance, fact.ExpiresAt,
		fact.IsPerpetual, fact.IsActive, fact.CreatedBy,
		fact.CreatedAt, fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fact: %w", err)
	}
	return nil
}

func (r *factRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WisdomFact, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `SELECT ` + factColumns + ` FROM wisdom_facts WHERE id = $1`

	fact, err := scanFact(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("fact %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return fact, nil
}

func (r *factRepository) UpsertEmbedding(ctx context.Context, emb *models.FactEmbedding) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()

	query := `
		INSERT INTO fact_embeddings (fact_id, embedding, backend, dimension, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (fact_id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			backend = EXCLUDED.backend,
			dimension = EXCLUDED.dimension,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		emb.FactID, database.VectorParam(emb.Vector), emb.Backend, emb.Dimension, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact embedding: %w", err)
	}
	return nil
}

func (r *factRepository) ListSearchable(ctx context.Context, orgID uuid.UUID, now time.Time) ([]*SearchableFact, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT
			f.id, f.org_id, f.content, f.domain, f.tier, f.confidence_score,
			f.importance, f.expires_at, f.is_perpetual, f.is_active,
			f.times_used, f.created_by, f.created_at, f.updated_at,
			e.embedding, e.backend
		FROM wisdom_facts f
		INNER JOIN fact_embeddings e ON e.fact_id = f.id
		WHERE f.org_id = $1
		  AND f.is_active = TRUE
		  AND f.tier <> 'archived'
		  AND (f.is_perpetual = TRUE OR f.expires_at IS NULL OR f.expires_at::date > $2::date)
		ORDER BY f.created_at`

	rows, err := scope.Conn.Query(ctx, query, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list searchable facts: %w", err)
	}
	defer rows.Close()

	facts := make([]*SearchableFact, 0)
	for rows.Next() {
		var fact models.WisdomFact
		var tier string
		var vec pgvector.Vector
		var backend string
		err := rows.Scan(
			&fact.ID, &fact.OrgID, &fact.Content, &fact.Domain, &tier,
			&fact.ConfidenceScore, &fact.Importance, &fact.ExpiresAt,
			&fact.IsPerpetual, &fact.IsActive, &fact.TimesUsed,
			&fact.CreatedBy, &fact.CreatedAt, &fact.UpdatedAt,
			&vec, &backend,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan searchable fact: %w", err)
		}
		fact.Tier = models.Tier(tier)
		facts = append(facts, &SearchableFact{
			Fact:      &fact,
			Embedding: vec.Slice(),
			Backend:   backend,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating searchable facts: %w", err)
	}
	return facts, nil
}

func (r *factRepository) IncrementUsage(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	query := `UPDATE wisdom_facts SET times_used = times_used + 1, updated_at = NOW() WHERE id = ANY($1)`

	_, err := scope.Conn.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to increment fact usage: %w", err)
	}
	return nil
}

func (r *factRepository) ListExpiring(ctx context.Context) ([]ExpiringRecord, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT id, org_id, content, expires_at
		FROM wisdom_facts
		WHERE expires_at IS NOT NULL AND is_perpetual = FALSE AND is_active = TRUE
		ORDER BY expires_at`

	return scanExpiring(ctx, scope, query)
}

func (r *factRepository) DeactivateByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no org scope in context")
	}

	query := `UPDATE wisdom_facts SET is_active = FALSE, updated_at = NOW() WHERE id = ANY($1)`

	result, err := scope.Conn.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate facts: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanFact(row pgx.Row) (*models.WisdomFact, error) {
	var fact models.WisdomFact
	var tier string
	err := row.Scan(
		&fact.ID, &fact.OrgID, &fact.Content, &fact.Domain, &tier,
		&fact.ConfidenceScore, &fact.Importance, &fact.ExpiresAt,
		&fact.IsPerpetual, &fact.IsActive, &fact.TimesUsed,
		&fact.CreatedBy, &fact.CreatedAt, &fact.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}
	fact.Tier = models.Tier(tier)
	return &fact, nil
}
