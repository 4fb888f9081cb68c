// member_repository.go implements MemberRepository, providing database queries for
// tenant membership: role lookup, enriched member listings, and the single-row
// role update the role-change policy relies on for atomicity.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tenantgate/tenantgate/internal/db/models"
)

// MemberRepository handles database operations for tenant memberships
type MemberRepository struct {
	db *sql.DB
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// GetMember retrieves a specific membership, or nil when the user does not
// belong to the tenant.
func (r *MemberRepository) GetMember(ctx context.Context, tenantID, userID string) (*models.TenantMember, error) {
	query := `
		SELECT tenant_id, user_id, role, created_at, updated_at
		FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`

	member := &models.TenantMember{}
	err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&member.TenantID,
		&member.UserID,
		&member.Role,
		&member.CreatedAt,
		&member.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not a member
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// GetMembershipBySubdomain retrieves the user's membership in the tenant that
// owns the given subdomain, joined with tenant details. This is the profile
// lookup behind derived session claims.
func (r *MemberRepository) GetMembershipBySubdomain(ctx context.Context, userID, subdomain string) (*models.Membership, error) {
	query := `
		SELECT m.tenant_id, t.subdomain, t.display_name, m.role, m.created_at
		FROM tenant_members m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.user_id = $1 AND t.subdomain = $2
	`

	ms := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, userID, subdomain).Scan(
		&ms.TenantID,
		&ms.Subdomain,
		&ms.DisplayName,
		&ms.Role,
		&ms.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return ms, nil
}

// ListMemberships retrieves all tenants the user belongs to.
func (r *MemberRepository) ListMemberships(ctx context.Context, userID string) ([]models.Membership, error) {
	query := `
		SELECT m.tenant_id, t.subdomain, t.display_name, m.role, m.created_at
		FROM tenant_members m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.user_id = $1
		ORDER BY m.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []models.Membership
	for rows.Next() {
		var ms models.Membership
		if err := rows.Scan(&ms.TenantID, &ms.Subdomain, &ms.DisplayName, &ms.Role, &ms.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, ms)
	}

	return memberships, rows.Err()
}

// ListMembersWithUsers retrieves all members of a tenant with user details.
func (r *MemberRepository) ListMembersWithUsers(ctx context.Context, tenantID string) ([]models.TenantMemberWithUser, error) {
	query := `
		SELECT m.tenant_id, m.user_id, m.role, u.name, u.email, m.created_at
		FROM tenant_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY m.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.TenantMemberWithUser
	for rows.Next() {
		var m models.TenantMemberWithUser
		if err := rows.Scan(&m.TenantID, &m.UserID, &m.Role, &m.UserName, &m.UserEmail, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// AddMember inserts a new membership.
func (r *MemberRepository) AddMember(ctx context.Context, tenantID, userID, role string) error {
	query := `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.ExecContext(ctx, query, tenantID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// UpdateRole changes a member's role. The WHERE clause pins the expected current
// role, so if a concurrent actor changed it first this update affects zero rows
// and the caller re-reads rather than silently overwriting. There is no
// optimistic-concurrency token beyond this; the single-row UPDATE is the only
// atomicity relied upon.
func (r *MemberRepository) UpdateRole(ctx context.Context, tenantID, userID, expectedRole, newRole string) (bool, error) {
	query := `
		UPDATE tenant_members
		SET role = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND user_id = $3 AND role = $4
	`

	result, err := r.db.ExecContext(ctx, query, newRole, tenantID, userID, expectedRole)
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}

// RemoveMember deletes a membership. Returns false when no row matched.
func (r *MemberRepository) RemoveMember(ctx context.Context, tenantID, userID string) (bool, error) {
	query := `
		DELETE FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}
