package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSimilarityThreshold is applied to new rules that don't set their own.
const DefaultSimilarityThreshold = 0.85

// AutomationRule is a canonical question/answer pair scoped to an
// organization. Stored in automation_rules table. A disabled rule or a rule
// whose expiry date has passed must never be matched.
type AutomationRule struct {
	ID                  uuid.UUID  `json:"id"`
	OrgID               uuid.UUID  `json:"org_id"`
	CanonicalQuestion   string     `json:"canonical_question"`
	CanonicalAnswer     string     `json:"canonical_answer"`
	SimilarityThreshold float64    `json:"similarity_threshold"`
	Category            *string    `json:"category,omitempty"`
	ExcludeKeywords     []string   `json:"exclude_keywords,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	IsEnabled           bool       `json:"is_enabled"`

	// Counters are monotonically increasing and must only be updated via
	// atomic SQL increments, never read-modify-write in application code.
	TimesTriggered int `json:"times_triggered"`
	TimesAccepted  int `json:"times_accepted"`
	TimesRejected  int `json:"times_rejected"`

	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsExpired reports whether the rule's good-until date has passed as of now.
// A rule with no expiry never expires. Expiry is a calendar-day boundary,
// inclusive: a rule expiring any time today is already unmatchable, matching
// the day granularity of the expiration sweep.
func (r *AutomationRule) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return expiredByDay(*r.ExpiresAt, now)
}

// expiredByDay compares calendar dates in the expiry's location: expired when
// the expiry date is today or earlier.
func expiredByDay(expiresAt, now time.Time) bool {
	now = now.In(expiresAt.Location())
	ey, em, ed := expiresAt.Date()
	ny, nm, nd := now.Date()
	expiry := time.Date(ey, em, ed, 0, 0, 0, 0, expiresAt.Location())
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, expiresAt.Location())
	return !expiry.After(today)
}

// IsMatchable reports whether the rule may participate in similarity matching.
func (r *AutomationRule) IsMatchable(now time.Time) bool {
	return r.IsEnabled && !r.IsExpired(now)
}

// RuleEmbedding is the stored vector for a rule's canonical question.
// 1:1 with AutomationRule and owned by it (cascade delete). Regenerated only
// when the canonical question text changes.
type RuleEmbedding struct {
	RuleID    uuid.UUID `json:"rule_id"`
	Vector    []float32 `json:"vector"`
	Backend   string    `json:"backend"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
