package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/models"
)

// Notifier receives notification intents from the engine. The engine only
// decides that a notification should fire and with what payload; rendering
// and transport belong to the implementation.
type Notifier interface {
	Notify(ctx context.Context, intent models.NotificationIntent) error
}

// LoggingNotifier is the default Notifier; it records every intent in the
// application log. Production deployments swap in a real delivery channel.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a notifier that logs intents.
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.Named("notifier")}
}

var _ Notifier = (*LoggingNotifier)(nil)

// Notify implements Notifier.
func (n *LoggingNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	n.logger.Info("Notification intent",
		zap.String("kind", intent.Kind),
		zap.String("entity_kind", intent.EntityKind),
		zap.String("entity_id", intent.EntityID.String()),
		zap.String("org_id", intent.OrgID.String()),
		zap.Int("days_remaining", intent.DaysRemaining))
	return nil
}
