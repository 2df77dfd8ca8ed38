package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/models"
)

// QuestionRepository provides data access for questions.
type QuestionRepository interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	Update(ctx context.Context, q *models.Question) error
	ListByStatus(ctx context.Context, orgID uuid.UUID, status models.Status) ([]*models.Question, error)
}

type questionRepository struct{}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository() QuestionRepository {
	return &questionRepository{}
}

var _ QuestionRepository = (*questionRepository)(nil)

const questionColumns = `
	id, org_id, asker_id, body, category, tags, status, priority,
	assigned_to, automation_rule_id, turbo_confidence, analysis,
	answer, satisfaction, first_response_at, resolved_at, created_at, updated_at`

func (r *questionRepository) Create(ctx context.Context, q *models.Question) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = now
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = models.StatusSubmitted
	}
	if q.Priority == "" {
		q.Priority = models.PriorityNormal
	}

	query := `
		INSERT INTO questions (
			id, org_id, asker_id, body, category, tags, status, priority,
			analysis, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := scope.Conn.Exec(ctx, query,
		q.ID, q.OrgID, q.AskerID, q.Body, nullableString(q.Category), q.Tags,
		string(q.Status), q.Priority, q.Analysis, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

func (r *questionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`

	q, err := scanQuestion(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("question %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return q, nil
}

func (r *questionRepository) Update(ctx context.Context, q *models.Question) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	q.UpdatedAt = time.Now()

	query := `
		UPDATE questions SET
			status = $2, priority = $3, assigned_to = $4,
			automation_rule_id = $5, turbo_confidence = $6, analysis = $7,
			answer = $8, satisfaction = $9,
			first_response_at = $10, resolved_at = $11, updated_at = $12
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query,
		q.ID, string(q.Status), q.Priority, q.AssignedTo,
		q.AutomationRuleID, q.TurboConfidence, q.Analysis,
		q.Answer, q.Satisfaction,
		q.FirstResponseAt, q.ResolvedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("question %s: %w", q.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *questionRepository) ListByStatus(ctx context.Context, orgID uuid.UUID, status models.Status) ([]*models.Question, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `SELECT ` + questionColumns + `
		FROM questions
		WHERE org_id = $1 AND status = $2
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, orgID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	questions := make([]*models.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	var category *string
	var status string

	err := row.Scan(
		&q.ID, &q.OrgID, &q.AskerID, &q.Body, &category, &q.Tags, &status,
		&q.Priority, &q.AssignedTo, &q.AutomationRuleID, &q.TurboConfidence,
		&q.Analysis, &q.Answer, &q.Satisfaction,
		&q.FirstResponseAt, &q.ResolvedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan question: %w", err)
	}

	if category != nil {
		q.Category = *category
	}
	q.Status = models.Status(status)
	return &q, nil
}

// nullableString maps "" to NULL for optional text columns.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
