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

// MatchableRule pairs a rule with its stored embedding for the decision
// engine's linear scan.
type MatchableRule struct {
	Rule      *models.AutomationRule
	Embedding []float32
	Backend   string
}

// ExpiringRecord is a minimal projection used by the expiration sweep.
type ExpiringRecord struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Label     string
	ExpiresAt time.Time
}

// RuleRepository provides data access for automation rules and their embeddings.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AutomationRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error)
	UpsertEmbedding(ctx context.Context, emb *models.RuleEmbedding) error

	// ListMatchable returns enabled, unexpired rules for the org together
	// with their embeddings. Expiry is a calendar-day boundary: a rule whose
	// good-until date is today or earlier is excluded. Rules without an
	// embedding are excluded by the join; they can never participate in
	// matching. If category is non-empty only rules with a NULL category
	// filter or an equal one are returned.
	ListMatchable(ctx context.Context, orgID uuid.UUID, category string, now time.Time) ([]*MatchableRule, error)

	// Counter updates are expressed as SQL-level increments so concurrent
	// matches against the same rule never lose updates.
	IncrementTriggered(ctx context.Context, id uuid.UUID) error
	IncrementAccepted(ctx context.Context, id uuid.UUID) error
	IncrementRejected(ctx context.Context, id uuid.UUID) error

	// Expiration sweep support. ListExpiring runs without org scope.
	ListExpiring(ctx context.Context) ([]ExpiringRecord, error)
	DisableByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type ruleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() RuleRepository {
	return &ruleRepository{}
}

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = `
	id, org_id, canonical_question, canonical_answer, similarity_threshold,
	category, exclude_keywords, expires_at, is_enabled,
	times_triggered, times_accepted, times_rejected,
	created_by, created_at, updated_at`

func (r *ruleRepository) Create(ctx context.Context, rule *models.AutomationRule) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.SimilarityThreshold <= 0 {
		rule.SimilarityThreshold = models.DefaultSimilarityThreshold
	}

	query := `
		INSERT INTO automation_rules (
			id, org_id, canonical_question, canonical_answer,
			similarity_threshold, category, exclude_keywords, expires_at,
			is_enabled, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := scope.Conn.Exec(ctx, query,
		rule.ID, rule.OrgID, rule.CanonicalQuestion, rule.CanonicalAnswer,
		rule.SimilarityThreshold, rule.Category, rule.ExcludeKeywords,
		rule.ExpiresAt, rule.IsEnabled, rule.CreatedBy,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *ruleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1`

	rule, err := scanRule(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("rule %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return rule, nil
}

func (r *ruleRepository) UpsertEmbedding(ctx context.Context, emb *models.RuleEmbedding) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()

	query := `
		INSERT INTO rule_embeddings (rule_id, embedding, backend, dimension, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (rule_id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			backend = EXCLUDED.backend,
			dimension = EXCLUDED.dimension,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		emb.RuleID, database.VectorParam(emb.Vector), emb.Backend, emb.Dimension, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule embedding: %w", err)
	}
	return nil
}

func (r *ruleRepository) ListMatchable(ctx context.Context, orgID uuid.UUID, category string, now time.Time) ([]*MatchableRule, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT
			r.id, r.org_id, r.canonical_question, r.canonical_answer,
			r.similarity_threshold, r.category, r.exclude_keywords,
			r.expires_at, r.is_enabled,
			r.times_triggered, r.times_accepted, r.times_rejected,
			r.created_by, r.created_at, r.updated_at,
			e.embedding, e.backend
		FROM automation_rules r
		INNER JOIN rule_embeddings e ON e.rule_id = r.id
		WHERE r.org_id = $1
		  AND r.is_enabled = TRUE
		  AND (r.expires_at IS NULL OR r.expires_at::date > $2::date)
		  AND ($3 = '' OR r.category IS NULL OR r.category = $3)
		ORDER BY r.created_at`

	rows, err := scope.Conn.Query(ctx, query, orgID, now, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list matchable rules: %w", err)
	}
	defer rows.Close()

	matchable := make([]*MatchableRule, 0)
	for rows.Next() {
		var rule models.AutomationRule
		var vec pgvector.Vector
		var backend string
		err := rows.Scan(
			&rule.ID, &rule.OrgID, &rule.CanonicalQuestion, &rule.CanonicalAnswer,
			&rule.SimilarityThreshold, &rule.Category, &rule.ExcludeKeywords,
			&rule.ExpiresAt, &rule.IsEnabled,
			&rule.TimesTriggered, &rule.TimesAccepted, &rule.TimesRejected,
			&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
			&vec, &backend,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matchable rule: %w", err)
		}
		matchable = append(matchable, &MatchableRule{
			Rule:      &rule,
			Embedding: vec.Slice(),
			Backend:   backend,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matchable rules: %w", err)
	}
	return matchable, nil
}

func (r *ruleRepository) IncrementTriggered(ctx context.Context, id uuid.UUID) error {
	return r.increment(ctx, id, "times_triggered")
}

func (r *ruleRepository) IncrementAccepted(ctx context.Context, id uuid.UUID) error {
	return r.increment(ctx, id, "times_accepted")
}

func (r *ruleRepository) IncrementRejected(ctx context.Context, id uuid.UUID) error {
	return r.increment(ctx, id, "times_rejected")
}

func (r *ruleRepository) increment(ctx context.Context, id uuid.UUID, column string) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	// column is one of three compile-time constants, never user input.
	query := fmt.Sprintf(
		`UPDATE automation_rules SET %s = %s + 1, updated_at = NOW() WHERE id = $1`,
		column, column,
	)

	result, err := scope.Conn.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *ruleRepository) ListExpiring(ctx context.Context) ([]ExpiringRecord, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT id, org_id, canonical_question, expires_at
		FROM automation_rules
		WHERE expires_at IS NOT NULL AND is_enabled = TRUE
		ORDER BY expires_at`

	return scanExpiring(ctx, scope, query)
}

func (r *ruleRepository) DisableByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no org scope in context")
	}

	query := `UPDATE automation_rules SET is_enabled = FALSE, updated_at = NOW() WHERE id = ANY($1)`

	result, err := scope.Conn.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to disable rules: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanRule(row pgx.Row) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := row.Scan(
		&rule.ID, &rule.OrgID, &rule.CanonicalQuestion, &rule.CanonicalAnswer,
		&rule.SimilarityThreshold, &rule.Category, &rule.ExcludeKeywords,
		&rule.ExpiresAt, &rule.IsEnabled,
		&rule.TimesTriggered, &rule.TimesAccepted, &rule.TimesRejected,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	return &rule, nil
}

func scanExpiring(ctx context.Context, scope *database.OrgScope, query string) ([]ExpiringRecord, error) {
	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring records: %w", err)
	}
	defer rows.Close()

	records := make([]ExpiringRecord, 0)
	for rows.Next() {
		var rec ExpiringRecord
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Label, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan expiring record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expiring records: %w", err)
	}
	return records, nil
}
