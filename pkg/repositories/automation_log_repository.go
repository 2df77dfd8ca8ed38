package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/models"
)

// AutomationLogRepository provides append-only audit rows for rule matches
// and turbo attributions. Rows are never mutated after creation.
type AutomationLogRepository interface {
	InsertLog(ctx context.Context, log *models.AutomationLog) error
	ListByQuestion(ctx context.Context, questionID uuid.UUID) ([]*models.AutomationLog, error)

	InsertAttribution(ctx context.Context, att *models.TurboAttribution) error
	ListAttributions(ctx context.Context, questionID uuid.UUID) ([]*models.TurboAttribution, error)
}

type automationLogRepository struct{}

// NewAutomationLogRepository creates a new AutomationLogRepository.
func NewAutomationLogRepository() AutomationLogRepository {
	return &automationLogRepository{}
}

var _ AutomationLogRepository = (*automationLogRepository)(nil)

func (r *automationLogRepository) InsertLog(ctx context.Context, log *models.AutomationLog) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now()

	query := `
		INSERT INTO automation_logs (id, org_id, question_id, rule_id, event, similarity, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := scope.Conn.Exec(ctx, query,
		log.ID, log.OrgID, log.QuestionID, log.RuleID, log.Event,
		log.Similarity, log.Reason, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert automation log: %w", err)
	}
	return nil
}

func (r *automationLogRepository) ListByQuestion(ctx context.Context, questionID uuid.UUID) ([]*models.AutomationLog, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT id, org_id, question_id, rule_id, event, similarity, reason, created_at
		FROM automation_logs
		WHERE question_id = $1
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AutomationLog, 0)
	for rows.Next() {
		var l models.AutomationLog
		err := rows.Scan(&l.ID, &l.OrgID, &l.QuestionID, &l.RuleID, &l.Event,
			&l.Similarity, &l.Reason, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automation logs: %w", err)
	}
	return logs, nil
}

func (r *automationLogRepository) InsertAttribution(ctx context.Context, att *models.TurboAttribution) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	if att.ID == uuid.Nil {
		att.ID = uuid.New()
	}
	att.CreatedAt = time.Now()

	query := `
		INSERT INTO turbo_attributions (id, org_id, question_id, fact_id, similarity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		att.ID, att.OrgID, att.QuestionID, att.FactID, att.Similarity, att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turbo attribution: %w", err)
	}
	return nil
}

func (r *automationLogRepository) ListAttributions(ctx context.Context, questionID uuid.UUID) ([]*models.TurboAttribution, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT id, org_id, question_id, fact_id, similarity, created_at
		FROM turbo_attributions
		WHERE question_id = $1
		ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turbo attributions: %w", err)
	}
	defer rows.Close()

	atts := make([]*models.TurboAttribution, 0)
	for rows.Next() {
		var a models.TurboAttribution
		err := rows.Scan(&a.ID, &a.OrgID, &a.QuestionID, &a.FactID, &a.Similarity, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turbo attribution: %w", err)
		}
		atts = append(atts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turbo attributions: %w", err)
	}
	return atts, nil
}
