// capability_repository.go implements CapabilityRepository on sqlx, providing
// per-tenant capability overrides layered on top of role defaults.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tenantgate/tenantgate/internal/db/models"
)

// CapabilityRepository handles database operations for capability overrides
type CapabilityRepository struct {
	db *sqlx.DB
}

// NewCapabilityRepository creates a new capability repository
func NewCapabilityRepository(db *sqlx.DB) *CapabilityRepository {
	return &CapabilityRepository{db: db}
}

// ListOverrides retrieves all capability overrides for a tenant.
func (r *CapabilityRepository) ListOverrides(ctx context.Context, tenantID string) ([]models.CapabilityOverride, error) {
	query := `
		SELECT tenant_id, role, capability, allowed
		FROM capability_overrides
		WHERE tenant_id = $1
		ORDER BY role, capability
	`

	var overrides []models.CapabilityOverride
	if err := r.db.SelectContext(ctx, &overrides, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list capability overrides: %w", err)
	}

	return overrides, nil
}

// Upsert inserts or updates a capability override.
func (r *CapabilityRepository) Upsert(ctx context.Context, o *models.CapabilityOverride) error {
	query := `
		INSERT INTO capability_overrides (tenant_id, role, capability, allowed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, role, capability)
		DO UPDATE SET allowed = EXCLUDED.allowed
	`

	if _, err := r.db.ExecContext(ctx, query, o.TenantID, o.Role, o.Capability, o.Allowed); err != nil {
		return fmt.Errorf("failed to upsert capability override: %w", err)
	}

	return nil
}

// Delete removes a capability override, reverting the capability to its role default.
func (r *CapabilityRepository) Delete(ctx context.Context, tenantID, role, capability string) error {
	query := `
		DELETE FROM capability_overrides
		WHERE tenant_id = $1 AND role = $2 AND capability = $3
	`

	if _, err := r.db.ExecContext(ctx, query, tenantID, role, capability); err != nil {
		return fmt.Errorf("failed to delete capability override: %w", err)
	}

	return nil
}
