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
	"github.com/askwise-inc/askwise-engine/pkg/llm"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

// Retrieval bounds for the turbo path. Retrieval casts a wider net than the
// confidence gate so coverage can be measured; the gate decides delivery.
const (
	TurboSearchMinSimilarity = 0.35
	TurboSearchLimit         = 10

	// strongMatchSimilarity is the bar a retrieved fact must clear to count
	// toward coverage.
	strongMatchSimilarity = 0.6
	// coverageSaturation is the number of strong matches at which coverage
	// maxes out.
	coverageSaturation = 3
)

// Confidence component weights.
const (
	weightSimilarity = 0.4
	weightTier       = 0.3
	weightCoverage   = 0.3
)

const turboSystemPrompt = `You answer questions strictly from the knowledge excerpts provided. ` +
	`If the excerpts do not contain the answer, say you do not know. ` +
	`Do not invent facts. Keep the answer short and direct.`

// TurboResult is the outcome of one turbo attempt. When Success is false,
// Reason says why the attempt did not deliver.
type TurboResult struct {
	Success    bool
	Confidence float64
	Threshold  float64
	Reason     string
	Answer     string
	Sources    []FactMatch
}

// ScoreConfidence computes delivery confidence from ranked fact matches:
// the best similarity, the best source tier, and how many strong matches
// back the answer. Empty input scores zero.
func ScoreConfidence(matches []FactMatch) float64 {
	if len(matches) == 0 {
		return 0.0
	}

	var maxSim, maxTier float64
	strong := 0
	for _, m := range matches {
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
		if score := m.Fact.Tier.Score(); score > maxTier {
			maxTier = score
		}
		if m.Similarity > strongMatchSimilarity {
			strong++
		}
	}

	coverage := float64(strong) / coverageSaturation
	if coverage > 1.0 {
		coverage = 1.0
	}

	return weightSimilarity*maxSim + weightTier*maxTier + weightCoverage*coverage
}

// TurboService produces AI-generated answers grounded in validated knowledge,
// gated by a confidence threshold.
type TurboService interface {
	// Attempt retrieves knowledge for the question, scores confidence and,
	// when the threshold is met, generates a grounded answer. A failed
	// attempt is a normal outcome, not an error; errors are reserved for
	// infrastructure failures.
	Attempt(ctx context.Context, question *models.Question, threshold float64) (*TurboResult, error)

	// Deliver writes a successful turbo answer onto the question with full
	// source attribution, in one transaction.
	Deliver(ctx context.Context, question *models.Question, result *TurboResult) error

	// Accept resolves a turbo-answered question.
	Accept(ctx context.Context, questionID uuid.UUID) (*models.Question, error)

	// Reject escalates a turbo-answered question to human_requested.
	Reject(ctx context.Context, questionID uuid.UUID, reason string) (*models.Question, error)
}

type turboService struct {
	questionRepo repositories.QuestionRepository
	factRepo     repositories.FactRepository
	logRepo      repositories.AutomationLogRepository
	search       KnowledgeSearchService
	generator    llm.Generator
	notifier     Notifier
	maxTokens    int
	temperature  float64
	logger       *zap.Logger
}

// NewTurboService creates a new TurboService.
func NewTurboService(
	questionRepo repositories.QuestionRepository,
	factRepo repositories.FactRepository,
	logRepo repositories.AutomationLogRepository,
	search KnowledgeSearchService,
	generator llm.Generator,
	notifier Notifier,
	maxTokens int,
	temperature float64,
	logger *zap.Logger,
) TurboService {
	return &turboService{
		questionRepo: questionRepo,
		factRepo:     factRepo,
		logRepo:      logRepo,
		search:       search,
		generator:    generator,
		notifier:     notifier,
		maxTokens:    maxTokens,
		temperature:  temperature,
		logger:       logger.Named("turbo"),
	}
}

var _ TurboService = (*turboService)(nil)

func (s *turboService) Attempt(ctx context.Context, question *models.Question, threshold float64) (*TurboResult, error) {
	matches, err := s.search.Search(ctx, question.OrgID, question.Body, TurboSearchMinSimilarity, TurboSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("turbo knowledge search: %w", err)
	}

	if len(matches) == 0 {
		return &TurboResult{Success: false, Confidence: 0.0, Threshold: threshold, Reason: "no relevant knowledge"}, nil
	}

	confidence := ScoreConfidence(matches)
	if confidence < threshold {
		return &TurboResult{
			Success:    false,
			Confidence: confidence,
			Threshold:  threshold,
			Reason:     fmt.Sprintf("confidence %.3f below threshold %.3f", confidence, threshold),
			Sources:    matches,
		}, nil
	}

	answer, err := s.generator.Generate(ctx, buildTurboPrompt(question.Body, matches), turboSystemPrompt, s.maxTokens, s.temperature)
	if err != nil {
		s.logger.Warn("Turbo generation failed",
			zap.String("question_id", question.ID.String()),
			zap.Error(err))
		return &TurboResult{
			Success:    false,
			Confidence: confidence,
			Threshold:  threshold,
			Reason:     "generation failed",
			Sources:    matches,
		}, nil
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return &TurboResult{
			Success:    false,
			Confidence: confidence,
			Threshold:  threshold,
			Reason:     "generation failed",
			Sources:    matches,
		}, nil
	}

	s.logger.Info("Turbo answer generated",
		zap.String("question_id", question.ID.String()),
		zap.Float64("confidence", confidence),
		zap.Int("sources", len(matches)))

	return &TurboResult{
		Success:    true,
		Confidence: confidence,
		Threshold:  threshold,
		Answer:     answer,
		Sources:    matches,
	}, nil
}

// buildTurboPrompt lays out the retrieved knowledge as numbered excerpts
// followed by the question, best match first.
func buildTurboPrompt(questionText string, matches []FactMatch) string {
	var b strings.Builder
	b.WriteString("Knowledge excerpts:\n\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, m.Fact.Tier, m.Fact.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(questionText)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func (s *turboService) Deliver(ctx context.Context, question *models.Question, result *TurboResult) error {
	if !result.Success {
		return fmt.Errorf("deliver called with unsuccessful turbo result")
	}
	if !question.Status.CanTransitionTo(models.StatusTurboAnswered) {
		return fmt.Errorf("deliver from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	confidence := result.Confidence

	// Mutations are staged on a copy; the caller's question changes only once
	// the transaction commits, so a failed delivery leaves it re-routable.
	staged := *question
	staged.Status = models.StatusTurboAnswered
	staged.Answer = &result.Answer
	staged.TurboConfidence = &confidence
	if staged.FirstResponseAt == nil {
		staged.FirstResponseAt = &now
	}

	sources := make([]map[string]any, 0, len(result.Sources))
	factIDs := make([]uuid.UUID, 0, len(result.Sources))
	for _, m := range result.Sources {
		if m.Fact == nil || m.Fact.ID == uuid.Nil {
			// Malformed source entries are skipped, never fatal.
			continue
		}
		sources = append(sources, map[string]any{
			"fact_id":    m.Fact.ID.String(),
			"similarity": m.Similarity,
			"tier":       string(m.Fact.Tier),
		})
		factIDs = append(factIDs, m.Fact.ID)
	}
	staged.Analysis = cloneAnalysis(question.Analysis)
	staged.Analysis["turbo"] = map[string]any{
		"confidence": confidence,
		"threshold":  result.Threshold,
		"sources":    sources,
	}

	err := scope.WithTx(ctx, func(txScope *database.OrgScope) error {
		txCtx := database.SetOrgScope(ctx, txScope)

		if err := s.questionRepo.Update(txCtx, &staged); err != nil {
			return err
		}
		for _, m := range result.Sources {
			if m.Fact == nil || m.Fact.ID == uuid.Nil {
				continue
			}
			if err := s.logRepo.InsertAttribution(txCtx, &models.TurboAttribution{
				OrgID:      staged.OrgID,
				QuestionID: staged.ID,
				FactID:     m.Fact.ID,
				Similarity: m.Similarity,
			}); err != nil {
				return err
			}
		}
		return s.factRepo.IncrementUsage(txCtx, factIDs)
	})
	if err != nil {
		return fmt.Errorf("deliver turbo answer: %w", err)
	}
	*question = staged

	s.logger.Info("Turbo answer delivered",
		zap.String("question_id", question.ID.String()),
		zap.Float64("confidence", confidence),
		zap.Int("sources", len(factIDs)))

	s.notify(ctx, models.NotificationIntent{
		Kind:       models.NotifyTurboDelivered,
		EntityKind: models.EntityQuestion,
		EntityID:   question.ID,
		OrgID:      question.OrgID,
	})
	return nil
}

func (s *turboService) Accept(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.StatusTurboAnswered {
		return nil, fmt.Errorf("accept from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}

	now := time.Now()
	question.Status = models.StatusResolved
	question.ResolvedAt = &now

	if err := s.questionRepo.Update(ctx, question); err != nil {
		return nil, fmt.Errorf("accept turbo answer: %w", err)
	}

	s.notify(ctx, models.NotificationIntent{
		Kind:       models.NotifyAnswerAccepted,
		EntityKind: models.EntityQuestion,
		EntityID:   question.ID,
		OrgID:      question.OrgID,
	})
	return question, nil
}

func (s *turboService) Reject(ctx context.Context, questionID uuid.UUID, reason string) (*models.Question, error) {
	question, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.StatusTurboAnswered {
		return nil, fmt.Errorf("reject from %s: %w", question.Status, apperrors.ErrInvalidTransition)
	}

	question.Status = models.StatusHumanRequested
	if question.Analysis == nil {
		question.Analysis = map[string]any{}
	}
	question.Analysis["rejection_reason"] = reason

	if err := s.questionRepo.Update(ctx, question); err != nil {
		return nil, fmt.Errorf("reject turbo answer: %w", err)
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

func (s *turboService) notify(ctx context.Context, intent models.NotificationIntent) {
	if err := s.notifier.Notify(ctx, intent); err != nil {
		s.logger.Warn("Notification intent failed",
			zap.String("kind", intent.Kind),
			zap.Error(err))
	}
}
