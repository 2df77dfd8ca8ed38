package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

func scopedContext() context.Context {
	return database.SetOrgScope(context.Background(), &database.OrgScope{})
}

func testChain(t *testing.T) *embedding.Chain {
	t.Helper()
	chain, err := embedding.NewChain(zap.NewNop(), embedding.NewHashingProvider(embedding.DefaultDimension))
	require.NoError(t, err)
	return chain
}

// vectorWithCosine builds a unit vector whose cosine similarity to the unit
// vector q is exactly target, by mixing q with a direction orthogonal to it.
func vectorWithCosine(t *testing.T, q []float32, target float64) []float32 {
	t.Helper()
	ortho := -1
	for i, v := range q {
		if v == 0 {
			ortho = i
			break
		}
	}
	require.GreaterOrEqual(t, ortho, 0, "query vector has no zero component to borrow")

	out := make([]float32, len(q))
	rest := math.Sqrt(1 - target*target)
	for i, v := range q {
		out[i] = float32(target) * v
	}
	out[ortho] += float32(rest)
	return out
}

func embedText(t *testing.T, chain *embedding.Chain, text string) []float32 {
	t.Helper()
	vec, backend, err := chain.Embed(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, "hashing", backend)
	return vec
}

func matchableRule(rule *models.AutomationRule, vec []float32, backend string) *repositories.MatchableRule {
	return &repositories.MatchableRule{Rule: rule, Embedding: vec, Backend: backend}
}

func newTestAutomation(ruleRepo *mockRuleRepo, questionRepo *mockQuestionRepo, logRepo *mockLogRepo, notifier *mockNotifier, chain *embedding.Chain) AutomationService {
	return NewAutomationService(questionRepo, ruleRepo, logRepo, chain, notifier, zap.NewNop())
}

func TestDecideAutoAnswerOnIdenticalQuestion(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	orgID := uuid.New()
	questionText := "how do I reset my account password"

	rule := &models.AutomationRule{
		ID:                  uuid.New(),
		OrgID:               orgID,
		CanonicalQuestion:   questionText,
		CanonicalAnswer:     "Use the reset link on the sign-in page.",
		SimilarityThreshold: 0.85,
		IsEnabled:           true,
	}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(rule, embedText(t, chain, questionText), "hashing"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), orgID, questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionAutoAnswer, decision.Action)
	require.NotNil(t, decision.Match)
	assert.Equal(t, rule.ID, decision.Match.Rule.ID)
	assert.InDelta(t, 1.0, decision.Match.Similarity, 1e-5)
}

func TestDecideSuggestBetweenFloorAndThreshold(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionText := "how do I reset my account password"
	q := embedText(t, chain, questionText)

	rule := &models.AutomationRule{
		ID:                  uuid.New(),
		CanonicalAnswer:     "canonical answer",
		SimilarityThreshold: 0.9,
		IsEnabled:           true,
	}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(rule, vectorWithCosine(t, q, 0.8), "hashing"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), uuid.New(), questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionSuggestToExpert, decision.Action)
	require.NotNil(t, decision.Match)
	assert.InDelta(t, 0.8, decision.Match.Similarity, 1e-4)
}

func TestDecideQueueWhenBelowFloor(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionText := "how do I reset my account password"
	q := embedText(t, chain, questionText)

	rule := &models.AutomationRule{ID: uuid.New(), SimilarityThreshold: 0.85, IsEnabled: true}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(rule, vectorWithCosine(t, q, 0.5), "hashing"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), uuid.New(), questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionQueueForExpert, decision.Action)
	assert.Nil(t, decision.Match)
}

func TestDecideExcludeKeywordBlocksMatch(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionText := "how do I reset my ENTERPRISE account password"

	rule := &models.AutomationRule{
		ID:                  uuid.New(),
		SimilarityThreshold: 0.85,
		ExcludeKeywords:     []string{"enterprise"},
		IsEnabled:           true,
	}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(rule, embedText(t, chain, questionText), "hashing"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), uuid.New(), questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionQueueForExpert, decision.Action)
}

func TestDecideIgnoresOtherBackendEmbeddings(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionText := "how do I reset my account password"

	rule := &models.AutomationRule{ID: uuid.New(), SimilarityThreshold: 0.85, IsEnabled: true}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(rule, embedText(t, chain, questionText), "remote"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), uuid.New(), questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionQueueForExpert, decision.Action)
}

func TestDecidePicksBestCandidate(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionText := "how do I reset my account password"
	q := embedText(t, chain, questionText)

	weaker := &models.AutomationRule{ID: uuid.New(), SimilarityThreshold: 0.7, IsEnabled: true}
	stronger := &models.AutomationRule{ID: uuid.New(), SimilarityThreshold: 0.7, IsEnabled: true}
	ruleRepo.matchable = []*repositories.MatchableRule{
		matchableRule(weaker, vectorWithCosine(t, q, 0.75), "hashing"),
		matchableRule(stronger, vectorWithCosine(t, q, 0.95), "hashing"),
	}

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	decision, err := svc.Decide(scopedContext(), uuid.New(), questionText, "")
	require.NoError(t, err)
	assert.Equal(t, ActionAutoAnswer, decision.Action)
	assert.Equal(t, stronger.ID, decision.Match.Rule.ID)
}

func TestDecideListErrorPropagates(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	ruleRepo.listErr = errBackendDown

	svc := newTestAutomation(ruleRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	_, err := svc.Decide(scopedContext(), uuid.New(), "anything", "")
	assert.Error(t, err)
}

func TestDeliverWritesAnswerAuditAndCounter(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	logRepo := newMockLogRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	question := &models.Question{OrgID: uuid.New(), AskerID: uuid.New(), Body: "q", Status: models.StatusSubmitted}
	require.NoError(t, questionRepo.Create(ctx, question))

	rule := &models.AutomationRule{ID: uuid.New(), CanonicalAnswer: "the answer", SimilarityThreshold: 0.85}
	match := &RuleMatch{Rule: rule, Similarity: 0.93}

	svc := newTestAutomation(ruleRepo, questionRepo, logRepo, notifier, chain)
	require.NoError(t, svc.Deliver(ctx, question, match))

	stored, err := questionRepo.GetByID(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAutoAnswered, stored.Status)
	require.NotNil(t, stored.Answer)
	assert.Equal(t, "the answer", *stored.Answer)
	require.NotNil(t, stored.AutomationRuleID)
	assert.Equal(t, rule.ID, *stored.AutomationRuleID)
	assert.NotNil(t, stored.FirstResponseAt)

	require.Len(t, logRepo.logs, 1)
	assert.Equal(t, models.LogEventDelivered, logRepo.logs[0].Event)
	assert.InDelta(t, 0.93, logRepo.logs[0].Similarity, 1e-9)
	assert.Equal(t, 1, ruleRepo.triggered[rule.ID])
	assert.Equal(t, []string{models.NotifyAutoDelivered}, notifier.kinds())
}

func TestDeliverFailureLeavesQuestionRoutable(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	logRepo := newMockLogRepo()
	logRepo.insertErr = errBackendDown
	notifier := &mockNotifier{}
	ctx := scopedContext()

	question := &models.Question{OrgID: uuid.New(), AskerID: uuid.New(), Body: "q", Status: models.StatusSubmitted}
	require.NoError(t, questionRepo.Create(ctx, question))

	rule := &models.AutomationRule{ID: uuid.New(), CanonicalAnswer: "the answer", SimilarityThreshold: 0.85}
	match := &RuleMatch{Rule: rule, Similarity: 0.93}

	svc := newTestAutomation(ruleRepo, questionRepo, logRepo, notifier, chain)
	require.Error(t, svc.Deliver(ctx, question, match))

	// The caller's question is untouched, so the fallback transition to the
	// expert queue stays legal.
	assert.Equal(t, models.StatusSubmitted, question.Status)
	assert.Nil(t, question.Answer)
	assert.Nil(t, question.AutomationRuleID)
	assert.NotContains(t, question.Analysis, "automation")
	assert.True(t, question.Status.CanTransitionTo(models.StatusExpertQueue))
	assert.Zero(t, ruleRepo.triggered[rule.ID])
	assert.Empty(t, notifier.intents)
}

func TestDeliverRejectsInvalidTransition(t *testing.T) {
	chain := testChain(t)
	svc := newTestAutomation(newMockRuleRepo(), newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, chain)

	question := &models.Question{ID: uuid.New(), Status: models.StatusResolved}
	match := &RuleMatch{Rule: &models.AutomationRule{ID: uuid.New()}}

	err := svc.Deliver(scopedContext(), question, match)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestAcceptResolvesAndCredits(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	logRepo := newMockLogRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	ruleID := uuid.New()
	question := &models.Question{OrgID: uuid.New(), Status: models.StatusAutoAnswered, AutomationRuleID: &ruleID}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(ruleRepo, questionRepo, logRepo, notifier, chain)

	updated, err := svc.Accept(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, 1, ruleRepo.accepted[ruleID])
	require.Len(t, logRepo.logs, 1)
	assert.Equal(t, models.LogEventAccepted, logRepo.logs[0].Event)
	assert.Equal(t, []string{models.NotifyAnswerAccepted}, notifier.kinds())

	// A second accept finds the question already resolved.
	_, err = svc.Accept(ctx, question.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, ruleRepo.accepted[ruleID])
}

func TestRejectEscalatesAndDebits(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	logRepo := newMockLogRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	ruleID := uuid.New()
	question := &models.Question{OrgID: uuid.New(), Status: models.StatusAutoAnswered, AutomationRuleID: &ruleID}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(ruleRepo, questionRepo, logRepo, notifier, chain)

	updated, err := svc.Reject(ctx, question.ID, "answer does not apply to my plan")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHumanRequested, updated.Status)
	assert.Equal(t, "answer does not apply to my plan", updated.Analysis["rejection_reason"])
	assert.Equal(t, 1, ruleRepo.rejected[ruleID])
	require.Len(t, logRepo.logs, 1)
	assert.Equal(t, models.LogEventRejected, logRepo.logs[0].Event)
	require.NotNil(t, logRepo.logs[0].Reason)
	assert.Equal(t, "answer does not apply to my plan", *logRepo.logs[0].Reason)
}

func TestRejectRequiresAutoAnsweredState(t *testing.T) {
	chain := testChain(t)
	questionRepo := newMockQuestionRepo()
	ctx := scopedContext()

	question := &models.Question{Status: models.StatusExpertQueue}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(newMockRuleRepo(), questionRepo, newMockLogRepo(), &mockNotifier{}, chain)

	_, err := svc.Reject(ctx, question.ID, "nope")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestCreateRuleFromQuestion(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	ctx := scopedContext()

	answer := "restart the sync agent"
	question := &models.Question{
		OrgID:    uuid.New(),
		Body:     "why does file sync stall after sleep",
		Category: "support",
		Status:   models.StatusAnswered,
		Answer:   &answer,
	}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(ruleRepo, questionRepo, newMockLogRepo(), &mockNotifier{}, chain)

	expertID := uuid.New()
	rule, err := svc.CreateRuleFromQuestion(ctx, question.ID, 0.88, expertID)
	require.NoError(t, err)
	assert.Equal(t, question.Body, rule.CanonicalQuestion)
	assert.Equal(t, answer, rule.CanonicalAnswer)
	assert.InDelta(t, 0.88, rule.SimilarityThreshold, 1e-9)
	assert.True(t, rule.IsEnabled)

	emb, ok := ruleRepo.embeddings[rule.ID]
	require.True(t, ok, "rule must get an embedding in the same transaction")
	assert.Equal(t, "hashing", emb.Backend)
	assert.Len(t, emb.Vector, embedding.DefaultDimension)
}

func TestCreateRuleFromQuestionRequiresAnswer(t *testing.T) {
	chain := testChain(t)
	questionRepo := newMockQuestionRepo()
	ctx := scopedContext()

	question := &models.Question{Body: "unanswered", Status: models.StatusExpertQueue}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(newMockRuleRepo(), questionRepo, newMockLogRepo(), &mockNotifier{}, chain)

	_, err := svc.CreateRuleFromQuestion(ctx, question.ID, 0.85, uuid.New())
	assert.Error(t, err)
}

func TestCreateRuleFromQuestionRejectedAnswerCannotSeedRule(t *testing.T) {
	chain := testChain(t)
	ruleRepo := newMockRuleRepo()
	questionRepo := newMockQuestionRepo()
	ctx := scopedContext()

	// A rejected auto answer keeps its answer text but must not become canon.
	answer := "the rejected auto answer"
	question := &models.Question{
		OrgID:  uuid.New(),
		Body:   "why does file sync stall after sleep",
		Status: models.StatusHumanRequested,
		Answer: &answer,
	}
	require.NoError(t, questionRepo.Create(ctx, question))

	svc := newTestAutomation(ruleRepo, questionRepo, newMockLogRepo(), &mockNotifier{}, chain)

	_, err := svc.CreateRuleFromQuestion(ctx, question.ID, 0.85, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(models.StatusHumanRequested))
	assert.Empty(t, ruleRepo.rules)
}

func TestRuleIsMatchableBoundaries(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	laterToday := now.Add(6 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		rule models.AutomationRule
		want bool
	}{
		{"enabled no expiry", models.AutomationRule{IsEnabled: true}, true},
		{"disabled", models.AutomationRule{IsEnabled: false}, false},
		{"expired yesterday", models.AutomationRule{IsEnabled: true, ExpiresAt: &yesterday}, false},
		{"expires exactly now", models.AutomationRule{IsEnabled: true, ExpiresAt: &now}, false},
		// Expiry is a calendar-day boundary: a rule good until later today is
		// already unmatchable.
		{"expires later today", models.AutomationRule{IsEnabled: true, ExpiresAt: &laterToday}, false},
		{"expires tomorrow", models.AutomationRule{IsEnabled: true, ExpiresAt: &tomorrow}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.IsMatchable(now))
		})
	}
}
