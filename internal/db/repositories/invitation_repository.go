// invitation_repository.go implements InvitationRepository for pending membership
// invitations. Raw invitation tokens are never stored; lookups go through the
// SHA-256 hash.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tenantgate/tenantgate/internal/db/models"
)

// InvitationRepository handles database operations for invitations
type InvitationRepository struct {
	db *sql.DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *sql.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create inserts a new invitation with the given expiry window.
func (r *InvitationRepository) Create(ctx context.Context, inv *models.Invitation, ttl time.Duration) error {
	query := `
		INSERT INTO invitations (tenant_id, email, role, token_hash, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, NOW() + $6::interval)
		RETURNING id, expires_at, created_at
	`

	interval := fmt.Sprintf("%d seconds", int(ttl.Seconds()))
	err := r.db.QueryRowContext(ctx, query,
		inv.TenantID, inv.Email, inv.Role, inv.TokenHash, inv.InvitedBy, interval,
	).Scan(&inv.ID, &inv.ExpiresAt, &inv.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves an invitation by its token hash, or nil when unknown.
func (r *InvitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	query := `
		SELECT id, tenant_id, email, role, token_hash, invited_by, expires_at, accepted_at, created_at
		FROM invitations
		WHERE token_hash = $1
	`

	inv := &models.Invitation{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.Email,
		&inv.Role,
		&inv.TokenHash,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
		&inv.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return inv, nil
}

// MarkAccepted stamps the invitation as redeemed. The unexpired/unaccepted
// predicate lives in SQL so double-redemption loses the race cleanly.
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE invitations
		SET accepted_at = NOW()
		WHERE id = $1 AND accepted_at IS NULL AND expires_at > NOW()
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to accept invitation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListByTenant retrieves pending invitations for a tenant.
func (r *InvitationRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Invitation, error) {
	query := `
		SELECT id, tenant_id, email, role, token_hash, invited_by, expires_at, accepted_at, created_at
		FROM invitations
		WHERE tenant_id = $1 AND accepted_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.TokenHash,
			&inv.InvitedBy, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}
