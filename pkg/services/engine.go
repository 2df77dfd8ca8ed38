package services

import (
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/config"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/llm"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

// Engine bundles the routing services behind one constructor. Transport
// layers (HTTP, MCP, queues) live in separate deployables and consume these
// services; the engine binary itself only runs the expiry scheduler and a
// health surface.
type Engine struct {
	Questions  QuestionService
	Automation AutomationService
	Turbo      TurboService
	Search     KnowledgeSearchService
	Expiry     ExpiryService

	// Scope mints org-scoped contexts for callers entering the engine.
	Scope *database.OrgScopeProvider
}

// EngineParams carries the external collaborators the engine needs.
type EngineParams struct {
	DB        *database.DB
	Embedder  *embedding.Chain
	Generator llm.Generator
	Notifier  Notifier
	Orgs      *config.OrgConfig

	// Generation tuning passed through to the turbo path.
	MaxTokens   int
	Temperature float64
}

// NewEngine wires repositories and services. Dependencies are explicit; there
// are no globals.
func NewEngine(p EngineParams, logger *zap.Logger) *Engine {
	questionRepo := repositories.NewQuestionRepository()
	ruleRepo := repositories.NewRuleRepository()
	factRepo := repositories.NewFactRepository()
	logRepo := repositories.NewAutomationLogRepository()
	documentRepo := repositories.NewDocumentRepository()

	notifier := p.Notifier
	if notifier == nil {
		notifier = NewLoggingNotifier(logger)
	}

	search := NewKnowledgeSearchService(factRepo, p.Embedder, logger)
	automation := NewAutomationService(questionRepo, ruleRepo, logRepo, p.Embedder, notifier, logger)
	turbo := NewTurboService(questionRepo, factRepo, logRepo, search, p.Generator, notifier,
		p.MaxTokens, p.Temperature, logger)

	return &Engine{
		Questions:  NewQuestionService(questionRepo, automation, turbo, p.Orgs, logger),
		Automation: automation,
		Turbo:      turbo,
		Search:     search,
		Expiry:     NewExpiryService(p.DB, ruleRepo, factRepo, documentRepo, notifier, logger),
		Scope:      database.NewOrgScopeProvider(p.DB),
	}
}
