package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a question. Transitions are restricted to
// the table in statusTransitions; everything else is rejected at the service
// boundary.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusAutoAnswered       Status = "auto_answered"
	StatusTurboAnswered      Status = "turbo_answered"
	StatusExpertQueue        Status = "expert_queue"
	StatusHumanRequested     Status = "human_requested"
	StatusNeedsClarification Status = "needs_clarification"
	StatusInProgress         Status = "in_progress"
	StatusAnswered           Status = "answered"
	StatusResolved           Status = "resolved"
	StatusClosed             Status = "closed"
)

// statusTransitions maps each state to the set of states reachable from it.
// Terminal states (resolved, closed) have no outgoing edges.
var statusTransitions = map[Status][]Status{
	StatusSubmitted:          {StatusAutoAnswered, StatusTurboAnswered, StatusExpertQueue},
	StatusAutoAnswered:       {StatusResolved, StatusHumanRequested, StatusClosed},
	StatusTurboAnswered:      {StatusResolved, StatusHumanRequested, StatusClosed},
	StatusExpertQueue:        {StatusInProgress, StatusClosed},
	StatusHumanRequested:     {StatusInProgress, StatusClosed},
	StatusNeedsClarification: {StatusInProgress, StatusExpertQueue, StatusClosed},
	StatusInProgress:         {StatusAnswered, StatusNeedsClarification, StatusClosed},
	StatusAnswered:           {StatusResolved, StatusNeedsClarification, StatusClosed},
	StatusResolved:           {},
	StatusClosed:             {},
}

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminal reports whether the status ends the question lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Priority values for questions.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Question represents one user request moving through the routing lifecycle.
// Stored in questions table. Questions are never hard-deleted; the lifecycle
// ends at a terminal status.
type Question struct {
	ID       uuid.UUID `json:"id"`
	OrgID    uuid.UUID `json:"org_id"`
	AskerID  uuid.UUID `json:"asker_id"`
	Body     string    `json:"body"`
	Category string    `json:"category,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Status   Status    `json:"status"`
	Priority string    `json:"priority"`

	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`

	// Attribution: at most one of AutomationRuleID / TurboConfidence is set
	// for an auto-resolved question.
	AutomationRuleID *uuid.UUID `json:"automation_rule_id,omitempty"`
	TurboConfidence  *float64   `json:"turbo_confidence,omitempty"`

	// Analysis is a machine-written diagnostic payload (decision traces,
	// turbo sources, rejection reasons). Never user-edited.
	Analysis map[string]any `json:"analysis,omitempty"`

	Answer       *string `json:"answer,omitempty"`
	Satisfaction *int    `json:"satisfaction,omitempty"`

	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
