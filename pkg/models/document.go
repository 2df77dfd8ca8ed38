package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is the minimal slice of the document entity needed by the
// expiration sweep. Upload, parsing and chunking live outside this engine.
type Document struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	Title     string     `json:"title"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
