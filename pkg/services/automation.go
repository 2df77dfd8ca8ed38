package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
	"github.com/askwise-inc/askwise-engine/pkg/similarity"
)

// Action is the routing outcome of a decision.
type Action string

const (
	ActionAutoAnswer      Action = "auto_answer"
	ActionSuggestToExpert Action = "suggest_to_expert"
	ActionQueueForExpert  Action = "queue_for_expert"
)

// SuggestionFloor is the fixed minimum similarity below which a rule is never
// surfaced, even as a suggestion. Each rule's own threshold governs the
// auto-answer bar; the floor only bounds how loose "suggest" can get.
const SuggestionFloor = 0.70

// RuleMatch pairs a matched rule with the similarity at decision time.
type RuleMatch struct {
	Rule       *models.AutomationRule
	Similarity float64
}

// Decision is the outcome of routing one question against the org's rules.
// Match is nil when Action is ActionQueueForExpert.
type Decision struct {
	Action Action
	Match  *RuleMatch
}

// AutomationService routes questions against canonical rules and manages the
// auto-answer lifecycle.
type AutomationService interface {
	// Decide retrieves and ranks the org's matchable rules for the question
	// and classifies the best candidate into an action.
	Decide(ctx context.Context, orgID uuid.UUID, questionText, category string) (*Decision, error)

	// Deliver writes the canonical answer onto the question, transitions it
	// to auto_answered and records the audit trail, all in one transaction.
	Deliver(ctx context.Context, question *models.Question, match *RuleMatch) error

	// Accept resolves an auto-answered question and credits the rule.
	Accept(ctx context.Context, questionID uuid.UUID) (*models.Question, error)

	// Reject escalates an auto-answered question to human_requested,
	// debits the rule and preserves the reason for expert context.
	Reject(ctx context.Context, questionID uuid.UUID, reason string) (*models.Question, error)

	// CreateRuleFromQuestion derives a new canonical pair from an answered
	// question, persisting rule and embedding atomically.
	CreateRuleFromQuestion(ctx context.Context, questionID uuid.UUID, threshold float64, createdBy uuid.UUID) (*models.AutomationRule, error)
}

type automationService struct {
	questionRepo repositories.QuestionRepository
	ruleRepo     repositories.RuleRepository
	logRepo      repositories.AutomationLogRepository
	embedder     *embedding.Chain
	notifier     Notifier
	logger       *zap.Logger
}

// NewAutomationService creates a new AutomationService.
func NewAutomationService(
	questionRepo repositories.QuestionRepository,
	ruleRepo repositories.RuleRepository,
	logRepo repositories.AutomationLogRepository,
	embedder *embedding.Chain,
	notifier Notifier,
	logger *zap.Logger,
) AutomationService {
	return &automationService{
		questionRepo: questionRepo,
		ruleRepo:     ruleRepo,
		logRepo:      logRepo,
		embedder:     embedder,
		notifier:     notifier,
		logger:       logger.Named("automation"),
	}
}

var _ AutomationService = (*automationService)(nil)

func (s *automationService) Decide(ctx context.Context, orgID uuid.UUID, questionText, category string) (*Decision, error) {
	queryVec, backend, err := s.embedder.Embed(ctx, questionText)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	candidates, err := s.ruleRepo.ListMatchable(ctx, orgID, category, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list matchable rules: %w", err)
	}

	lowerQuestion := strings.ToLower(questionText)
	survivors := make([]*repositories.MatchableRule, 0, len(candidates))
	vectors := make([][]float32, 0, len(candidates))
	for _, c := range candidates {
		// Vectors from different backends are not comparable.
		if c.Backend != backend {
			continue
		}
		if hasExcludedKeyword(lowerQuestion, c.Rule.ExcludeKeywords) {
			continue
		}
		survivors = append(survivors, c)
		vectors = append(vectors, c.Embedding)
	}

	ranked := similarity.Rank(queryVec, vectors)

	var best *RuleMatch
	for _, r := range ranked {
		if r.Score < SuggestionFloor {
			break
		}
		best = &RuleMatch{Rule: survivors[r.Index].Rule, Similarity: r.Score}
		break
	}

	if best == nil {
		s.logger.Debug("No rule above suggestion floor",
			zap.String("org_id", orgID.String()),
			zap.Int("candidates", len(survivors)))
		return &Decision{Action: ActionQueueForExpert}, nil
	}

	action := ActionSuggestToExpert
	if best.Similarity >= best.Rule.SimilarityThreshold {
		action = ActionAutoAnswer
	}

	s.logger.Info("Automation decision",
		zap.String("org_id", orgID.String()),
		zap.String("rule_id", best.Rule.ID.String()),
		zap.String("action", string(action)),
		zap.Float64("similarity", best.Similarity),
		zap.Float64("rule_threshold", best.Rule.SimilarityThreshold))

	return &Decision{Action: action, Match: best}, nil
}

// hasExcludedKeyword reports whether any exclude keyword appears in the
// question text. lowerQuestion must already be lowercased.
func hasExcludedKeyword(lowerQuestion string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerQuestion, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (s *automationService) Deliver(ctx context.Context, question *models.Question, match *RuleMatch) error {
	if !question.Status.CanTransitionTo(models.StatusAutoAnswered) {
		return fmt.Errorf("deliver from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	answer := match.Rule.CanonicalAnswer
	ruleID := match.Rule.ID

	// Mutations are staged on a copy; the caller's question changes only once
	// the transaction commits, so a failed delivery leaves it re-routable.
	staged := *question
	staged.Status = models.StatusAutoAnswered
	staged.Answer = &answer
	staged.AutomationRuleID = &ruleID
	if staged.FirstResponseAt == nil {
		staged.FirstResponseAt = &now
	}
	staged.Analysis = cloneAnalysis(question.Analysis)
	staged.Analysis["automation"] = map[string]any{
		"rule_id":    ruleID.String(),
		"similarity": match.Similarity,
	}

	// Answer, status, audit row and counter commit together so a crash
	// mid-delivery cannot leave an answer without its audit trail.
	err := scope.WithTx(ctx, func(txScope *database.OrgScope) error {
		txCtx := database.SetOrgScope(ctx, txScope)

		if err := s.questionRepo.Update(txCtx, &staged); err != nil {
			return err
		}
		if err := s.logRepo.InsertLog(txCtx, &models.AutomationLog{
			OrgID:      staged.OrgID,
			QuestionID: staged.ID,
			RuleID:     ruleID,
			Event:      models.LogEventDelivered,
			Similarity: match.Similarity,
		}); err != nil {
			return err
		}
		return s.ruleRepo.IncrementTriggered(txCtx, ruleID)
	})
	if err != nil {
		return fmt.Errorf("deliver auto answer: %w", err)
	}
	*question = staged

	s.logger.Info("Auto answer delivered",
		zap.String("question_id", question.ID.String()),
		zap.String("rule_id", ruleID.String()),
		zap.Float64("similarity", match.Similarity))

	s.notify(ctx, models.NotificationIntent{
		Kind:       models.NotifyAutoDelivered,
		EntityKind: models.EntityQuestion,
		EntityID:   question.ID,
		OrgID:      question.OrgID,
	})
	return nil
}

func (s *automationService) Accept(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.StatusAutoAnswered {
		return nil, fmt.Errorf("accept from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}
	if question.AutomationRuleID == nil {
		return nil, fmt.Errorf("auto-answered question %s has no rule attribution", questionID)
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	ruleID := *question.AutomationRuleID
	question.Status = models.StatusResolved
	question.ResolvedAt = &now

	err = scope.WithTx(ctx, func(txScope *database.OrgScope) error {
		txCtx := database.SetOrgScope(ctx, txScope)

		if err := s.questionRepo.Update(txCtx, question); err != nil {
			return err
		}
		if err := s.logRepo.InsertLog(txCtx, &models.AutomationLog{
			OrgID:      question.OrgID,
			QuestionID: question.ID,
			RuleID:     ruleID,
			Event:      models.LogEventAccepted,
		}); err != nil {
			return err
		}
		return s.ruleRepo.IncrementAccepted(txCtx, ruleID)
	})
	if err != nil {
		return nil, fmt.Errorf("accept auto answer: %w", err)
	}

	s.notify(ctx, models.NotificationIntent{
		Kind:       models.NotifyAnswerAccepted,
		EntityKind: models.EntityQuestion,
		EntityID:   question.ID,
		OrgID:      question.OrgID,
	})
	return question, nil
}

func (s *automationService) Reject(ctx context.Context, questionID uuid.UUID, reason string) (*models.Question, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.StatusAutoAnswered {
		return nil, fmt.Errorf("reject from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}
	if question.AutomationRuleID == nil {
		return nil, fmt.Errorf("auto-answered question %s has no rule attribution", questionID)
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	ruleID := *question.AutomationRuleID
	question.Status = models.StatusHumanRequested
	if question.Analysis == nil {
		question.Analysis = map[string]any{}
	}
	question.Analysis["rejection_reason"] = reason

	err = scope.WithTx(ctx, func(txScope *database.OrgScope) error {
		txCtx := database.SetOrgScope(ctx, txScope)

		if err := s.questionRepo.Update(txCtx, question); err != nil {
			return err
		}
		if err := s.logRepo.InsertLog(txCtx, &models.AutomationLog{
			OrgID:      question.OrgID,
			QuestionID: question.ID,
			RuleID:     ruleID,
			Event:      models.LogEventRejected,
			Reason:     &reason,
		}); err != nil {
			return err
		}
		return s.ruleRepo.IncrementRejected(txCtx, ruleID)
	})
	if err != nil {
		return nil, fmt.Errorf("reject auto answer: %w", err)
	}

	s.notify(ctx, models.NotificationIntent{
		Kind:       models.NotifyAnswerRejected,
		EntityKind: models.EntityQuestion,
		EntityID:   question.ID,
		OrgID:      question.OrgID,
		Payload:    map[string]any{"reason": reason},
	})
	return question, nil
}

func (s *automationService) CreateRuleFromQuestion(ctx context.Context, questionID uuid.UUID, threshold float64, createdBy uuid.UUID) (*models.AutomationRule, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Answer == nil || *question.Answer == "" {
		return nil, fmt.Errorf("question %s has no answer to derive a rule from", questionID)
	}
	// A rejected auto answer still carries its answer text; only questions an
	// expert answered or the asker resolved may seed a canonical rule.
	switch question.Status {
	case models.StatusAnswered, models.StatusResolved:
	default:
		return nil, fmt.Errorf("question %s in status %s cannot seed a rule", questionID, question.Status)
	}

	// Embedding happens before the write transaction opens so no lock is
	// held across the network call.
	vec, backend, err := s.embedder.Embed(ctx, question.Body)
	if err != nil {
		return nil, fmt.Errorf("embed canonical question: %w", err)
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	rule := &models.AutomationRule{
		OrgID:               question.OrgID,
		CanonicalQuestion:   question.Body,
		CanonicalAnswer:     *question.Answer,
		SimilarityThreshold: threshold,
		Category:            nullableCategory(question.Category),
		IsEnabled:           true,
		CreatedBy:           &createdBy,
	}

	// Rule and embedding persist atomically; a rule with no embedding must
	// never become matchable.
	err = scope.WithTx(ctx, func(txScope *database.OrgScope) error {
		txCtx := database.SetOrgScope(ctx, txScope)

		if err := s.ruleRepo.Create(txCtx, rule); err != nil {
			return err
		}
		return s.ruleRepo.UpsertEmbedding(txCtx, &models.RuleEmbedding{
			RuleID:    rule.ID,
			Vector:    vec,
			Backend:   backend,
			Dimension: len(vec),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create rule from question: %w", err)
	}

	s.logger.Info("Rule created from question",
		zap.String("rule_id", rule.ID.String()),
		zap.String("question_id", questionID.String()),
		zap.Float64("threshold", rule.SimilarityThreshold))

	return rule, nil
}

func (s *automationService) notify(ctx context.Context, intent models.NotificationIntent) {
	if err := s.notifier.Notify(ctx, intent); err != nil {
		s.logger.Warn("Notification intent failed",
			zap.String("kind", intent.Kind),
			zap.Error(err))
	}
}

func nullableCategory(category string) *string {
	if category == "" {
		return nil
	}
	return &category
}

// cloneAnalysis copies an analysis payload. Staged delivery writes go to the
// copy, never to the map shared with the caller's question.
func cloneAnalysis(analysis map[string]any) map[string]any {
	out := make(map[string]any, len(analysis)+1)
	for k, v := range analysis {
		out[k] = v
	}
	return out
}
