package models

import (
	"time"

	"github.com/google/uuid"
)

// Automation log events.
const (
	LogEventDelivered = "DELIVERED"
	LogEventAccepted  = "ACCEPTED"
	LogEventRejected  = "REJECTED"
)

// AutomationLog is an append-only audit row linking a question to the rule
// that produced its answer, with the similarity at decision time. Never
// mutated after creation.
type AutomationLog struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	QuestionID uuid.UUID `json:"question_id"`
	RuleID     uuid.UUID `json:"rule_id"`
	Event      string    `json:"event"`
	Similarity float64   `json:"similarity"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TurboAttribution is an append-only row linking a turbo-answered question to
// one of the knowledge facts that grounded its answer.
type TurboAttribution struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	QuestionID uuid.UUID `json:"question_id"`
	FactID     uuid.UUID `json:"fact_id"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
