package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the ordered quality classification of a knowledge fact.
type Tier string

const (
	TierAuthoritative   Tier = "authoritative"
	TierExpertValidated Tier = "expert_validated"
	TierAIExtracted     Tier = "ai_extracted"
	TierPending         Tier = "pending"
	TierArchived        Tier = "archived"
)

// tierScores maps each tier to its contribution in the confidence model.
// Archived facts should never reach scoring because search excludes them,
// but the mapping defends against it anyway.
var tierScores = map[Tier]float64{
	TierAuthoritative:   1.0,
	TierExpertValidated: 0.9,
	TierAIExtracted:     0.7,
	TierPending:         0.4,
	TierArchived:        0.0,
}

// IsValid reports whether t is a known tier.
func (t Tier) IsValid() bool {
	_, ok := tierScores[t]
	return ok
}

// Score returns the tier's quality score in [0, 1]. Unknown tiers score 0.
func (t Tier) Score() float64 {
	return tierScores[t]
}

// WisdomFact is a unit of validated knowledge. Stored in wisdom_facts table.
// Archived or inactive facts are excluded from all search and scoring paths.
type WisdomFact struct {
	ID              uuid.UUID  `json:"id"`
	OrgID           uuid.UUID  `json:"org_id"`
	Content         string     `json:"content"`
	Domain          *string    `json:"domain,omitempty"`
	Tier            Tier       `json:"tier"`
	ConfidenceScore float64    `json:"confidence_score"`
	Importance      int        `json:"importance"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	IsPerpetual     bool       `json:"is_perpetual"`
	IsActive        bool       `json:"is_active"`
	TimesUsed       int        `json:"times_used"`

	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsExpired reports whether the fact's good-until date has passed, at the
// same calendar-day granularity as rule expiry. Perpetual facts and facts
// with no expiry never expire.
func (f *WisdomFact) IsExpired(now time.Time) bool {
	if f.IsPerpetual || f.ExpiresAt == nil {
		return false
	}
	return expiredByDay(*f.ExpiresAt, now)
}

// IsSearchable reports whether the fact may appear in knowledge search.
func (f *WisdomFact) IsSearchable(now time.Time) bool {
	return f.IsActive && f.Tier != TierArchived && !f.IsExpired(now)
}

// FactEmbedding is the stored vector for a fact's content. 1:1 with
// WisdomFact, owned by it, regenerated whenever the content changes.
type FactEmbedding struct {
	FactID    uuid.UUID `json:"fact_id"`
	Vector    []float32 `json:"vector"`
	Backend   string    `json:"backend"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
