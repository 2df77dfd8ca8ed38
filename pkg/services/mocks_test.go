package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askwise-inc/askwise-engine/pkg/apperrors"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

// ============================================================================
// Mock Implementations shared across service tests
// ============================================================================

type mockQuestionRepo struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*models.Question
	createErr error
	updateErr error
	updates   int
}

func newMockQuestionRepo() *mockQuestionRepo {
	return &mockQuestionRepo{questions: make(map[uuid.UUID]*models.Question)}
}

func (m *mockQuestionRepo) Create(_ context.Context, q *models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	q.CreatedAt = time.Now()
	copied := *q
	m.questions[q.ID] = &copied
	return nil
}

func (m *mockQuestionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *q
	return &copied, nil
}

func (m *mockQuestionRepo) Update(_ context.Context, q *models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.questions[q.ID]; !ok {
		return apperrors.ErrNotFound
	}
	m.updates++
	copied := *q
	m.questions[q.ID] = &copied
	return nil
}

func (m *mockQuestionRepo) ListByStatus(_ context.Context, orgID uuid.UUID, status models.Status) ([]*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Question
	for _, q := range m.questions {
		if q.OrgID == orgID && q.Status == status {
			copied := *q
			out = append(out, &copied)
		}
	}
	return out, nil
}

type mockRuleRepo struct {
	rules      map[uuid.UUID]*models.AutomationRule
	embeddings map[uuid.UUID]*models.RuleEmbedding
	matchable  []*repositories.MatchableRule
	expiring   []repositories.ExpiringRecord

	listErr   error
	createErr error

	triggered map[uuid.UUID]int
	accepted  map[uuid.UUID]int
	rejected  map[uuid.UUID]int
	disabled  [][]uuid.UUID
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{
		rules:      make(map[uuid.UUID]*models.AutomationRule),
		embeddings: make(map[uuid.UUID]*models.RuleEmbedding),
		triggered:  make(map[uuid.UUID]int),
		accepted:   make(map[uuid.UUID]int),
		rejected:   make(map[uuid.UUID]int),
	}
}

func (m *mockRuleRepo) Create(_ context.Context, rule *models.AutomationRule) error {
	if m.createErr != nil {
		return m.createErr
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.SimilarityThreshold <= 0 {
		rule.SimilarityThreshold = models.DefaultSimilarityThreshold
	}
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockRuleRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	rule, ok := m.rules[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return rule, nil
}

func (m *mockRuleRepo) UpsertEmbedding(_ context.Context, emb *models.RuleEmbedding) error {
	m.embeddings[emb.RuleID] = emb
	return nil
}

func (m *mockRuleRepo) ListMatchable(context.Context, uuid.UUID, string, time.Time) ([]*repositories.MatchableRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.matchable, nil
}

func (m *mockRuleRepo) IncrementTriggered(_ context.Context, id uuid.UUID) error {
	m.triggered[id]++
	return nil
}

func (m *mockRuleRepo) IncrementAccepted(_ context.Context, id uuid.UUID) error {
	m.accepted[id]++
	return nil
}

func (m *mockRuleRepo) IncrementRejected(_ context.Context, id uuid.UUID) error {
	m.rejected[id]++
	return nil
}

func (m *mockRuleRepo) ListExpiring(context.Context) ([]repositories.ExpiringRecord, error) {
	return m.expiring, nil
}

func (m *mockRuleRepo) DisableByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.disabled = append(m.disabled, ids)
	return int64(len(ids)), nil
}

type mockFactRepo struct {
	facts       map[uuid.UUID]*models.WisdomFact
	searchable  []*repositories.SearchableFact
	expiring    []repositories.ExpiringRecord
	listErr     error
	usedIDs     [][]uuid.UUID
	deactivated [][]uuid.UUID
}

func newMockFactRepo() *mockFactRepo {
	return &mockFactRepo{facts: make(map[uuid.UUID]*models.WisdomFact)}
}

func (m *mockFactRepo) Create(_ context.Context, fact *models.WisdomFact) error {
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}
	m.facts[fact.ID] = fact
	return nil
}

func (m *mockFactRepo) GetByID(_ context.Context, id uuid.UUID) (*models.WisdomFact, error) {
	fact, ok := m.facts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return fact, nil
}

func (m *mockFactRepo) UpsertEmbedding(context.Context, *models.FactEmbedding) error {
	return nil
}

func (m *mockFactRepo) ListSearchable(context.Context, uuid.UUID, time.Time) ([]*repositories.SearchableFact, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.searchable, nil
}

func (m *mockFactRepo) IncrementUsage(_ context.Context, ids []uuid.UUID) error {
	m.usedIDs = append(m.usedIDs, ids)
	return nil
}

func (m *mockFactRepo) ListExpiring(context.Context) ([]repositories.ExpiringRecord, error) {
	return m.expiring, nil
}

func (m *mockFactRepo) DeactivateByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.deactivated = append(m.deactivated, ids)
	return int64(len(ids)), nil
}

type mockLogRepo struct {
	logs         []*models.AutomationLog
	attributions []*models.TurboAttribution
	insertErr    error
}

func newMockLogRepo() *mockLogRepo { return &mockLogRepo{} }

func (m *mockLogRepo) InsertLog(_ context.Context, log *models.AutomationLog) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockLogRepo) ListByQuestion(_ context.Context, questionID uuid.UUID) ([]*models.AutomationLog, error) {
	var out []*models.AutomationLog
	for _, l := range m.logs {
		if l.QuestionID == questionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockLogRepo) InsertAttribution(_ context.Context, att *models.TurboAttribution) error {
	m.attributions = append(m.attributions, att)
	return nil
}

func (m *mockLogRepo) ListAttributions(_ context.Context, questionID uuid.UUID) ([]*models.TurboAttribution, error) {
	var out []*models.TurboAttribution
	for _, a := range m.attributions {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockDocumentRepo struct {
	expiring    []repositories.ExpiringRecord
	deactivated [][]uuid.UUID
}

func (m *mockDocumentRepo) ListExpiring(context.Context) ([]repositories.ExpiringRecord, error) {
	return m.expiring, nil
}

func (m *mockDocumentRepo) DeactivateByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.deactivated = append(m.deactivated, ids)
	return int64(len(ids)), nil
}

type mockNotifier struct {
	intents []models.NotificationIntent
	err     error
}

func (m *mockNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	if m.err != nil {
		return m.err
	}
	m.intents = append(m.intents, intent)
	return nil
}

func (m *mockNotifier) kinds() []string {
	out := make([]string, len(m.intents))
	for i, intent := range m.intents {
		out[i] = intent.Kind
	}
	return out
}

var errBackendDown = errors.New("backend down")
