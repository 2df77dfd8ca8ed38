package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/models"
	"github.com/askwise-inc/askwise-engine/pkg/repositories"
)

// Warning horizons, in days before expiry. A notification fires only on the
// exact day, so a daily sweep produces at most one warning per horizon per
// record.
var warningDays = []int{30, 7}

// SweepStats summarizes one expiration sweep.
type SweepStats struct {
	RulesDisabled    int
	FactsDeactivated int
	DocumentsExpired int
	WarningsIssued   int
}

// ExpiryService deactivates expired knowledge and warns about upcoming
// expirations across all organizations.
type ExpiryService interface {
	// SweepOnce runs a single pass over rules, facts and documents.
	SweepOnce(ctx context.Context) (*SweepStats, error)

	// RunScheduler blocks, sweeping immediately and then on every interval
	// tick until ctx is cancelled. Intended to run in its own goroutine.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type expiryService struct {
	db           *database.DB
	ruleRepo     repositories.RuleRepository
	factRepo     repositories.FactRepository
	documentRepo repositories.DocumentRepository
	notifier     Notifier
	logger       *zap.Logger
}

// NewExpiryService creates a new ExpiryService.
func NewExpiryService(
	db *database.DB,
	ruleRepo repositories.RuleRepository,
	factRepo repositories.FactRepository,
	documentRepo repositories.DocumentRepository,
	notifier Notifier,
	logger *zap.Logger,
) ExpiryService {
	return &expiryService{
		db:           db,
		ruleRepo:     ruleRepo,
		factRepo:     factRepo,
		documentRepo: documentRepo,
		notifier:     notifier,
		logger:       logger.Named("expiry"),
	}
}

var _ ExpiryService = (*expiryService)(nil)

func (s *expiryService) RunScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("Expiration scheduler started", zap.Duration("interval", interval))

	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Expiration sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiration scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Expiration sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *expiryService) SweepOnce(ctx context.Context) (*SweepStats, error) {
	// The sweep crosses organization boundaries, so it runs unscoped.
	scope, err := s.db.WithoutOrg(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sweep connection: %w", err)
	}
	defer scope.Close()
	sweepCtx := database.SetOrgScope(ctx, scope)

	now := time.Now()
	stats := &SweepStats{}

	rules, err := s.ruleRepo.ListExpiring(sweepCtx)
	if err != nil {
		return nil, fmt.Errorf("list expiring rules: %w", err)
	}
	disabled, warned, err := s.sweepEntity(sweepCtx, scope, rules, now, models.EntityRule, s.ruleRepo.DisableByIDs)
	if err != nil {
		return nil, fmt.Errorf("sweep rules: %w", err)
	}
	stats.RulesDisabled = disabled
	stats.WarningsIssued += warned

	facts, err := s.factRepo.ListExpiring(sweepCtx)
	if err != nil {
		return nil, fmt.Errorf("list expiring facts: %w", err)
	}
	deactivated, warned, err := s.sweepEntity(sweepCtx, scope, facts, now, models.EntityFact, s.factRepo.DeactivateByIDs)
	if err != nil {
		return nil, fmt.Errorf("sweep facts: %w", err)
	}
	stats.FactsDeactivated = deactivated
	stats.WarningsIssued += warned

	documents, err := s.documentRepo.ListExpiring(sweepCtx)
	if err != nil {
		return nil, fmt.Errorf("list expiring documents: %w", err)
	}
	expired, warned, err := s.sweepEntity(sweepCtx, scope, documents, now, models.EntityDocument, s.documentRepo.DeactivateByIDs)
	if err != nil {
		return nil, fmt.Errorf("sweep documents: %w", err)
	}
	stats.DocumentsExpired = expired
	stats.WarningsIssued += warned

	s.logger.Info("Expiration sweep completed",
		zap.Int("rules_disabled", stats.RulesDisabled),
		zap.Int("facts_deactivated", stats.FactsDeactivated),
		zap.Int("documents_expired", stats.DocumentsExpired),
		zap.Int("warnings_issued", stats.WarningsIssued))

	return stats, nil
}

// sweepEntity partitions records into expired and warnable, deactivates the
// expired batch in one transaction and emits intents afterwards.
func (s *expiryService) sweepEntity(
	ctx context.Context,
	scope *database.OrgScope,
	records []repositories.ExpiringRecord,
	now time.Time,
	entityKind string,
	deactivate func(ctx context.Context, ids []uuid.UUID) (int64, error),
) (int, int, error) {
	var expired []repositories.ExpiringRecord
	var warnings []repositories.ExpiringRecord
	var warningDaysLeft []int

	for _, rec := range records {
		days := daysUntil(now, rec.ExpiresAt)
		if days <= 0 {
			expired = append(expired, rec)
			continue
		}
		for _, horizon := range warningDays {
			if days == horizon {
				warnings = append(warnings, rec)
				warningDaysLeft = append(warningDaysLeft, days)
				break
			}
		}
	}

	if len(expired) > 0 {
		ids := make([]uuid.UUID, len(expired))
		for i, rec := range expired {
			ids[i] = rec.ID
		}
		err := scope.WithTx(ctx, func(txScope *database.OrgScope) error {
			txCtx := database.SetOrgScope(ctx, txScope)
			_, err := deactivate(txCtx, ids)
			return err
		})
		if err != nil {
			return 0, 0, err
		}
	}

	// Intents fire after the deactivation commits so a notification never
	// precedes the state it reports.
	for _, rec := range expired {
		s.notify(ctx, models.NotificationIntent{
			Kind:       models.NotifyExpired,
			EntityKind: entityKind,
			EntityID:   rec.ID,
			OrgID:      rec.OrgID,
		})
	}
	for i, rec := range warnings {
		s.notify(ctx, models.NotificationIntent{
			Kind:          models.NotifyExpiringSoon,
			EntityKind:    entityKind,
			EntityID:      rec.ID,
			OrgID:         rec.OrgID,
			DaysRemaining: warningDaysLeft[i],
		})
	}

	return len(expired), len(warnings), nil
}

// daysUntil counts whole calendar days from now to expiry, in expiry's
// location. Same-day and past expiries yield values <= 0.
func daysUntil(now, expiresAt time.Time) int {
	now = now.In(expiresAt.Location())
	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, expiresAt.Location())
	expiryDate := time.Date(expiresAt.Year(), expiresAt.Month(), expiresAt.Day(), 0, 0, 0, 0, expiresAt.Location())
	return int(expiryDate.Sub(nowDate) / (24 * time.Hour))
}

func (s *expiryService) notify(ctx context.Context, intent models.NotificationIntent) {
	if err := s.notifier.Notify(ctx, intent); err != nil {
		s.logger.Warn("Notification intent failed",
			zap.String("kind", intent.Kind),
			zap.Error(err))
	}
}
