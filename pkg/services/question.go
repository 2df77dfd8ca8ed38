package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/config"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

// SubmitRequest carries the fields of a new question. Callers are expected to
// run inside an org-scoped context matching OrgID.
type SubmitRequest struct {
	OrgID    uuid.UUID
	AskerID  uuid.UUID
	Body     string
	Category string
	Tags     []string
	Priority string
}

// QuestionService owns question intake and the expert-side lifecycle. Routing
// on intake is delegated to the automation and turbo services; their failures
// degrade to the expert queue and never block intake.
type QuestionService interface {
	// Submit persists the question and routes it: auto answer, turbo answer
	// or expert queue.
	Submit(ctx context.Context, req SubmitRequest) (*models.Question, error)

	Get(ctx context.Context, questionID uuid.UUID) (*models.Question, error)
	ListByStatus(ctx context.Context, orgID uuid.UUID, status models.Status) ([]*models.Question, error)

	// Claim assigns a queued question to an expert and moves it to
	// in_progress.
	Claim(ctx context.Context, questionID, expertID uuid.UUID) (*models.Question, error)

	// Answer records an expert's answer on an in_progress question.
	Answer(ctx context.Context, questionID uuid.UUID, answer string) (*models.Question, error)

	// RequestClarification sends an in_progress or answered question back to
	// the asker.
	RequestClarification(ctx context.Context, questionID uuid.UUID, note string) (*models.Question, error)

	// Rate records asker satisfaction on an answered question and resolves it.
	Rate(ctx context.Context, questionID uuid.UUID, satisfaction int) (*models.Question, error)

	// Close ends the lifecycle of a non-terminal question without resolution.
	Close(ctx context.Context, questionID uuid.UUID) (*models.Question, error)
}

type questionService struct {
	questionRepo repositories.QuestionRepository
	automation   AutomationService
	turbo        TurboService
	orgs         *config.OrgConfig
	logger       *zap.Logger
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(
	questionRepo repositories.QuestionRepository,
	automation AutomationService,
	turbo TurboService,
	orgs *config.OrgConfig,
	logger *zap.Logger,
) QuestionService {
	return &questionService{
		questionRepo: questionRepo,
		automation:   automation,
		turbo:        turbo,
		orgs:         orgs,
		logger:       logger.Named("questions"),
	}
}

var _ QuestionService = (*questionService)(nil)

func (s *questionService) Submit(ctx context.Context, req SubmitRequest) (*models.Question, error) {
	if req.Body == "" {
		return nil, fmt.Errorf("question body is required")
	}
	if req.Category != "" && !s.orgs.Settings(req.OrgID).HasCategory(req.Category) {
		return nil, fmt.Errorf("category %q is not configured for this organization", req.Category)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	question := &models.Question{
		OrgID:    req.OrgID,
		AskerID:  req.AskerID,
		Body:     req.Body,
		Category: req.Category,
		Tags:     req.Tags,
		Status:   models.StatusSubmitted,
		Priority: priority,
	}

	// The question is persisted before any routing so a routing failure can
	// never lose the submission.
	if err := s.questionRepo.Create(ctx, question); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}

	s.route(ctx, question)
	return question, nil
}

// route classifies a freshly submitted question. Every failure path lands the
// question in the expert queue.
func (s *questionService) route(ctx context.Context, question *models.Question) {
	decision, err := s.automation.Decide(ctx, question.OrgID, question.Body, question.Category)
	if err != nil {
		s.logger.Warn("Decision engine failed, queueing for expert",
			zap.String("question_id", question.ID.String()),
			zap.Error(err))
		s.queueForExpert(ctx, question, nil)
		return
	}

	switch decision.Action {
	case ActionAutoAnswer:
		if err := s.automation.Deliver(ctx, question, decision.Match); err != nil {
			s.logger.Warn("Auto answer delivery failed, queueing for expert",
				zap.String("question_id", question.ID.String()),
				zap.Error(err))
			s.queueForExpert(ctx, question, nil)
		}
		return

	case ActionSuggestToExpert:
		s.queueForExpert(ctx, question, decision.Match)
		return
	}

	settings := s.orgs.Settings(question.OrgID)
	if settings.TurboEnabled {
		result, err := s.turbo.Attempt(ctx, question, settings.TurboThreshold)
		if err != nil {
			s.logger.Warn("Turbo attempt failed, queueing for expert",
				zap.String("question_id", question.ID.String()),
				zap.Error(err))
		} else if result.Success {
			if err := s.turbo.Deliver(ctx, question, result); err == nil {
				return
			}
			s.logger.Warn("Turbo delivery failed, queueing for expert",
				zap.String("question_id", question.ID.String()))
		} else {
			s.logger.Debug("Turbo declined",
				zap.String("question_id", question.ID.String()),
				zap.String("reason", result.Reason),
				zap.Float64("confidence", result.Confidence))
		}
	}

	s.queueForExpert(ctx, question, nil)
}

// queueForExpert moves the question to the expert queue, attaching the rule
// suggestion to the analysis payload when one exists.
func (s *questionService) queueForExpert(ctx context.Context, question *models.Question, suggestion *RuleMatch) {
	if !question.Status.CanTransitionTo(models.StatusExpertQueue) {
		return
	}
	question.Status = models.StatusExpertQueue

	if suggestion != nil {
		if question.Analysis == nil {
			question.Analysis = map[string]any{}
		}
		question.Analysis["suggestion"] = map[string]any{
			"rule_id":          suggestion.Rule.ID.String(),
			"similarity":       suggestion.Similarity,
			"canonical_answer": suggestion.Rule.CanonicalAnswer,
		}
	}

	if err := s.questionRepo.Update(ctx, question); err != nil {
		s.logger.Error("Failed to queue question for expert",
			zap.String("question_id", question.ID.String()),
			zap.Error(err))
	}
}

func (s *questionService) Get(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	return s.questionRepo.GetByID(ctx, questionID)
}

func (s *questionService) ListByStatus(ctx context.Context, orgID uuid.UUID, status models.Status) ([]*models.Question, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return s.questionRepo.ListByStatus(ctx, orgID, status)
}

func (s *questionService) Claim(ctx context.Context, questionID, expertID uuid.UUID) (*models.Question, error) {
	return s.transition(ctx, questionID, models.StatusInProgress, func(q *models.Question) {
		q.AssignedTo = &expertID
	})
}

func (s *questionService) Answer(ctx context.Context, questionID uuid.UUID, answer string) (*models.Question, error) {
	if answer == "" {
		return nil, fmt.Errorf("answer is required")
	}
	now := time.Now()
	return s.transition(ctx, questionID, models.StatusAnswered, func(q *models.Question) {
		q.Answer = &answer
		if q.FirstResponseAt == nil {
			q.FirstResponseAt = &now
		}
	})
}

func (s *questionService) RequestClarification(ctx context.Context, questionID uuid.UUID, note string) (*models.Question, error) {
	return s.transition(ctx, questionID, models.StatusNeedsClarification, func(q *models.Question) {
		if note == "" {
			return
		}
		if q.Analysis == nil {
			q.Analysis = map[string]any{}
		}
		q.Analysis["clarification_note"] = note
	})
}

func (s *questionService) Rate(ctx context.Context, questionID uuid.UUID, satisfaction int) (*models.Question, error) {
	if satisfaction < 1 || satisfaction > 5 {
		return nil, fmt.Errorf("satisfaction must be between 1 and 5, got %d", satisfaction)
	}
	now := time.Now()
	return s.transition(ctx, questionID, models.StatusResolved, func(q *models.Question) {
		q.Satisfaction = &satisfaction
		q.ResolvedAt = &now
	})
}

func (s *questionService) Close(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	return s.transition(ctx, questionID, models.StatusClosed, nil)
}

// transition loads the question, validates the state change, applies mutate
// and persists the result.
func (s *questionService) transition(ctx context.Context, questionID uuid.UUID, next models.Status, mutate func(*models.Question)) (*models.Question, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !question.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("transition %s -> %s: %w", question.Status, next, apperrors.ErrInvalidTransition)
	}

	question.Status = next
	if mutate != nil {
		mutate(question)
	}

	if err := s.questionRepo.Update(ctx, question); err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}

	s.logger.Info("Question transitioned",
		zap.String("question_id", question.ID.String()),
		zap.String("status", string(next)))

	return question, nil
}
