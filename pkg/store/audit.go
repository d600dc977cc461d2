package store

import (
	"context"
	"fmt"

	"github.com/incidentops/iats/pkg/models"
)

// CreateAuditLog appends one audit record. Callers invoke this inside the
// same transaction as the action being documented.
func (s *Store) CreateAuditLog(ctx context.Context, a *models.AuditLog) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO audit_logs (actor, action, resource_type, resource_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		a.Actor, a.Action, a.ResourceType, strOrNil(a.ResourceID), mustJSON(a.Details),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
