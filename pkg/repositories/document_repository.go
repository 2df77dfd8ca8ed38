package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/askwise-inc/askwise-engine/pkg/database"
)

// DocumentRepository exposes the slice of document data the expiration sweep
// needs. Document content management lives outside this engine.
type DocumentRepository interface {
	ListExpiring(ctx context.Context) ([]ExpiringRecord, error)
	DeactivateByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

func (r *documentRepository) ListExpiring(ctx context.Context) ([]ExpiringRecord, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT id, org_id, title, expires_at
		FROM documents
		WHERE expires_at IS NOT NULL AND is_active = TRUE
		ORDER BY expires_at`

	return scanExpiring(ctx, scope, query)
}

func (r *documentRepository) DeactivateByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no org scope in context")
	}

	query := `UPDATE documents SET is_active = FALSE, updated_at = NOW() WHERE id = ANY($1)`

	result, err := scope.Conn.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate documents: %w", err)
	}
	return result.RowsAffected(), nil
}
