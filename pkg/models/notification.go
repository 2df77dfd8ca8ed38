package models

import (
	"github.com/google/uuid"
)

// Notification intent kinds emitted by the engine. Rendering and transport
// belong to the notification collaborator, not this core.
const (
	NotifyExpiringSoon   = "expiring_soon"
	NotifyExpired        = "expired"
	NotifyAutoDelivered  = "auto_delivered"
	NotifyTurboDelivered = "turbo_delivered"
	NotifyAnswerAccepted = "answer_accepted"
	NotifyAnswerRejected = "answer_rejected"
)

// Entity kinds referenced by notification intents.
const (
	EntityRule     = "automation_rule"
	EntityFact     = "wisdom_fact"
	EntityDocument = "document"
	EntityQuestion = "question"
)

// NotificationIntent says that a notification should fire and with what
// payload. DaysRemaining is only meaningful for expiry intents.
type NotificationIntent struct {
	Kind          string         `json:"kind"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      uuid.UUID      `json:"entity_id"`
	OrgID         uuid.UUID      `json:"org_id"`
	DaysRemaining int            `json:"days_remaining,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}
