package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/llm"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

func factMatch(tier models.Tier, sim float64) FactMatch {
	return FactMatch{
		Fact:       &models.WisdomFact{ID: uuid.New(), Tier: tier, Content: "fact"},
		Similarity: sim,
	}
}

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name    string
		matches []FactMatch
		want    float64
	}{
		{
			name:    "empty input scores zero",
			matches: nil,
			want:    0.0,
		},
		{
			name: "saturated authoritative scores one",
			matches: []FactMatch{
				factMatch(models.TierAuthoritative, 1.0),
				factMatch(models.TierAuthoritative, 0.9),
				factMatch(models.TierAuthoritative, 0.8),
			},
			want: 1.0,
		},
		{
			name: "single strong pending fact",
			// 0.4*0.7 + 0.3*0.4 + 0.3*(1/3)
			matches: []FactMatch{factMatch(models.TierPending, 0.7)},
			want:    0.5,
		},
		{
			name: "weak matches contribute no coverage",
			// 0.4*0.5 + 0.3*0.7 + 0.3*0
			matches: []FactMatch{factMatch(models.TierAIExtracted, 0.5)},
			want:    0.41,
		},
		{
			name: "coverage caps at three strong matches",
			matches: []FactMatch{
				factMatch(models.TierExpertValidated, 0.95),
				factMatch(models.TierExpertValidated, 0.9),
				factMatch(models.TierExpertValidated, 0.85),
				factMatch(models.TierExpertValidated, 0.8),
				factMatch(models.TierExpertValidated, 0.75),
			},
			// 0.4*0.95 + 0.3*0.9 + 0.3*1
			want: 0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ScoreConfidence(tt.matches), 1e-9)
		})
	}
}

func TestScoreConfidenceMonotonicInMatches(t *testing.T) {
	base := []FactMatch{factMatch(models.TierAIExtracted, 0.65)}
	more := append([]FactMatch{}, base...)
	more = append(more, factMatch(models.TierAIExtracted, 0.7))

	assert.GreaterOrEqual(t, ScoreConfidence(more), ScoreConfidence(base))
}

func newTestTurbo(t *testing.T, factRepo *mockFactRepo, questionRepo *mockQuestionRepo, logRepo *mockLogRepo, notifier *mockNotifier, gen llm.Generator) TurboService {
	t.Helper()
	chain := testChain(t)
	search := NewKnowledgeSearchService(factRepo, chain, zap.NewNop())
	return NewTurboService(questionRepo, factRepo, logRepo, search, gen, notifier, 512, 0.2, zap.NewNop())
}

func searchableFact(t *testing.T, chain *embedding.Chain, content string, tier models.Tier) *repositories.SearchableFact {
	t.Helper()
	fact := &models.WisdomFact{ID: uuid.New(), Content: content, Tier: tier, IsActive: true}
	return &repositories.SearchableFact{
		Fact:      fact,
		Embedding: embedText(t, chain, content),
		Backend:   "hashing",
	}
}

func TestAttemptNoKnowledgeFails(t *testing.T) {
	factRepo := newMockFactRepo()
	gen := llm.NewMockClient()
	svc := newTestTurbo(t, factRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, gen)

	question := &models.Question{ID: uuid.New(), Body: "how do I rotate api keys"}
	result, err := svc.Attempt(scopedContext(), question, 0.75)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, "no relevant knowledge", result.Reason)
	assert.Zero(t, gen.GenerateCalls)
}

func TestAttemptBelowThresholdSkipsGeneration(t *testing.T) {
	chain := testChain(t)
	factRepo := newMockFactRepo()
	question := &models.Question{ID: uuid.New(), Body: "how do I rotate api keys"}

	q := embedText(t, chain, question.Body)
	fact := &models.WisdomFact{ID: uuid.New(), Content: "loosely related", Tier: models.TierPending}
	factRepo.searchable = []*repositories.SearchableFact{
		{Fact: fact, Embedding: vectorWithCosine(t, q, 0.4), Backend: "hashing"},
	}

	gen := llm.NewMockClient()
	svc := newTestTurbo(t, factRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, gen)

	result, err := svc.Attempt(scopedContext(), question, 0.75)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "below threshold")
	assert.Positive(t, result.Confidence)
	assert.Zero(t, gen.GenerateCalls)
}

func TestAttemptGeneratesAboveThreshold(t *testing.T) {
	chain := testChain(t)
	factRepo := newMockFactRepo()
	question := &models.Question{ID: uuid.New(), Body: "api keys rotate every ninety days"}

	factRepo.searchable = []*repositories.SearchableFact{
		searchableFact(t, chain, question.Body, models.TierAuthoritative),
		searchableFact(t, chain, question.Body, models.TierAuthoritative),
		searchableFact(t, chain, question.Body, models.TierAuthoritative),
	}

	gen := llm.NewMockClient()
	gen.GenerateFunc = func(context.Context, string, string, int, float64) (string, error) {
		return "Keys rotate automatically every ninety days.", nil
	}

	svc := newTestTurbo(t, factRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, gen)

	result, err := svc.Attempt(scopedContext(), question, 0.75)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.InDelta(t, 1.0, result.Confidence, 1e-5)
	assert.Equal(t, "Keys rotate automatically every ninety days.", result.Answer)
	assert.Len(t, result.Sources, 3)
}

func TestAttemptEmptyGenerationFails(t *testing.T) {
	chain := testChain(t)
	factRepo := newMockFactRepo()
	question := &models.Question{ID: uuid.New(), Body: "api keys rotate every ninety days"}
	factRepo.searchable = []*repositories.SearchableFact{
		searchableFact(t, chain, question.Body, models.TierAuthoritative),
	}

	gen := llm.NewMockClient()
	gen.GenerateFunc = func(context.Context, string, string, int, float64) (string, error) {
		return "   ", nil
	}

	svc := newTestTurbo(t, factRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, gen)

	result, err := svc.Attempt(scopedContext(), question, 0.5)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "generation failed", result.Reason)
}

func TestAttemptGeneratorErrorIsCleanFailure(t *testing.T) {
	chain := testChain(t)
	factRepo := newMockFactRepo()
	question := &models.Question{ID: uuid.New(), Body: "api keys rotate every ninety days"}
	factRepo.searchable = []*repositories.SearchableFact{
		searchableFact(t, chain, question.Body, models.TierAuthoritative),
	}

	gen := llm.NewMockClient()
	gen.GenerateFunc = func(context.Context, string, string, int, float64) (string, error) {
		return "", errors.New("deadline exceeded")
	}

	svc := newTestTurbo(t, factRepo, newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, gen)

	result, err := svc.Attempt(scopedContext(), question, 0.5)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "generation failed", result.Reason)
}

func TestTurboDeliverStampsAndAttributes(t *testing.T) {
	factRepo := newMockFactRepo()
	questionRepo := newMockQuestionRepo()
	logRepo := newMockLogRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	question := &models.Question{OrgID: uuid.New(), Body: "q", Status: models.StatusSubmitted}
	require.NoError(t, questionRepo.Create(ctx, question))

	valid := factMatch(models.TierAuthoritative, 0.9)
	malformed := FactMatch{Fact: &models.WisdomFact{ID: uuid.Nil}, Similarity: 0.8}

	result := &TurboResult{
		Success:    true,
		Confidence: 0.91,
		Threshold:  0.75,
		Answer:     "grounded answer",
		Sources:    []FactMatch{valid, malformed},
	}

	svc := newTestTurbo(t, factRepo, questionRepo, logRepo, notifier, llm.NewMockClient())
	require.NoError(t, svc.Deliver(ctx, question, result))

	stored, err := questionRepo.GetByID(ctx, question.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTurboAnswered, stored.Status)
	require.NotNil(t, stored.Answer)
	assert.Equal(t, "grounded answer", *stored.Answer)
	require.NotNil(t, stored.TurboConfidence)
	assert.InDelta(t, 0.91, *stored.TurboConfidence, 1e-9)
	assert.NotNil(t, stored.FirstResponseAt)

	// The malformed source is skipped, not fatal.
	require.Len(t, logRepo.attributions, 1)
	assert.Equal(t, valid.Fact.ID, logRepo.attributions[0].FactID)
	require.Len(t, factRepo.usedIDs, 1)
	assert.Equal(t, []uuid.UUID{valid.Fact.ID}, factRepo.usedIDs[0])
	assert.Equal(t, []string{models.NotifyTurboDelivered}, notifier.kinds())
}

func TestTurboDeliverFailureLeavesQuestionRoutable(t *testing.T) {
	factRepo := newMockFactRepo()
	questionRepo := newMockQuestionRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	question := &models.Question{OrgID: uuid.New(), Body: "q", Status: models.StatusSubmitted}
	require.NoError(t, questionRepo.Create(ctx, question))
	questionRepo.updateErr = errBackendDown

	result := &TurboResult{
		Success:    true,
		Confidence: 0.91,
		Threshold:  0.75,
		Answer:     "grounded answer",
		Sources:    []FactMatch{factMatch(models.TierAuthoritative, 0.9)},
	}

	svc := newTestTurbo(t, factRepo, questionRepo, newMockLogRepo(), notifier, llm.NewMockClient())
	require.Error(t, svc.Deliver(ctx, question, result))

	// The caller's question is untouched, so the fallback transition to the
	// expert queue stays legal.
	assert.Equal(t, models.StatusSubmitted, question.Status)
	assert.Nil(t, question.Answer)
	assert.Nil(t, question.TurboConfidence)
	assert.NotContains(t, question.Analysis, "turbo")
	assert.True(t, question.Status.CanTransitionTo(models.StatusExpertQueue))
	assert.Empty(t, factRepo.usedIDs)
	assert.Empty(t, notifier.intents)
}

func TestTurboDeliverRejectsUnsuccessfulResult(t *testing.T) {
	svc := newTestTurbo(t, newMockFactRepo(), newMockQuestionRepo(), newMockLogRepo(), &mockNotifier{}, llm.NewMockClient())

	question := &models.Question{ID: uuid.New(), Status: models.StatusSubmitted}
	err := svc.Deliver(scopedContext(), question, &TurboResult{Success: false})
	assert.Error(t, err)
}

func TestTurboAcceptAndReject(t *testing.T) {
	questionRepo := newMockQuestionRepo()
	notifier := &mockNotifier{}
	ctx := scopedContext()

	accepted := &models.Question{OrgID: uuid.New(), Status: models.StatusTurboAnswered}
	require.NoError(t, questionRepo.Create(ctx, accepted))
	rejected := &models.Question{OrgID: uuid.New(), Status: models.StatusTurboAnswered}
	require.NoError(t, questionRepo.Create(ctx, rejected))

	svc := newTestTurbo(t, newMockFactRepo(), questionRepo, newMockLogRepo(), notifier, llm.NewMockClient())

	updated, err := svc.Accept(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)

	updated, err = svc.Reject(ctx, rejected.ID, "missed the edge case")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHumanRequested, updated.Status)
	assert.Equal(t, "missed the edge case", updated.Analysis["rejection_reason"])

	// Feedback on a question in the wrong state is rejected.
	_, err = svc.Accept(ctx, accepted.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}
