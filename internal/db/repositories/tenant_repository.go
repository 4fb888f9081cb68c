// tenant_repository.go implements TenantRepository, providing database queries for
// tenants and subdomain reservations, including the transactional reservation →
// tenant promotion performed at signup confirmation.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tenantgate/tenantgate/internal/db/models"
)

// TenantRepository handles database operations for tenants and reservations
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetBySubdomain retrieves an active tenant by its exact subdomain.
// Callers must normalize (trim, lowercase) first; see tenancy.NormalizeSubdomain.
func (r *TenantRepository) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	query := `
		SELECT id, subdomain, display_name, emoji, permissions_changed_at, created_at, updated_at
		FROM tenants
		WHERE subdomain = $1
	`

	tenant := &models.Tenant{}
	err := r.db.QueryRowContext(ctx, query, subdomain).Scan(
		&tenant.ID,
		&tenant.Subdomain,
		&tenant.DisplayName,
		&tenant.Emoji,
		&tenant.PermissionsChangedAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, subdomain, display_name, emoji, permissions_changed_at, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	tenant := &models.Tenant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Subdomain,
		&tenant.DisplayName,
		&tenant.Emoji,
		&tenant.PermissionsChangedAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// TouchPermissionsChanged bumps the tenant's permissions_changed_at stamp.
// Called after every successful role update so stale sessions re-authenticate.
func (r *TenantRepository) TouchPermissionsChanged(ctx context.Context, tenantID string) error {
	query := `
		UPDATE tenants
		SET permissions_changed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("failed to touch permissions stamp: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant not found: %s", tenantID)
	}

	return nil
}

// === Subdomain Reservation Operations ===

// GetLiveReservation retrieves the unexpired, unconfirmed reservation for a
// subdomain, or nil when none exists. Expired or confirmed reservations are
// invisible to this query; the expiry check happens in SQL so the cutoff is the
// database clock, not the application's.
func (r *TenantRepository) GetLiveReservation(ctx context.Context, subdomain string) (*models.SubdomainReservation, error) {
	query := `
		SELECT id, subdomain, email, company_name, confirm_token_hash, expires_at, confirmed_at, created_at
		FROM subdomain_reservations
		WHERE subdomain = $1 AND expires_at > NOW() AND confirmed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	res := &models.SubdomainReservation{}
	err := r.db.QueryRowContext(ctx, query, subdomain).Scan(
		&res.ID,
		&res.Subdomain,
		&res.Email,
		&res.CompanyName,
		&res.ConfirmTokenHash,
		&res.ExpiresAt,
		&res.ConfirmedAt,
		&res.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// GetReservationByTokenHash retrieves a reservation by its confirmation token hash.
func (r *TenantRepository) GetReservationByTokenHash(ctx context.Context, tokenHash string) (*models.SubdomainReservation, error) {
	query := `
		SELECT id, subdomain, email, company_name, confirm_token_hash, expires_at, confirmed_at, created_at
		FROM subdomain_reservations
		WHERE confirm_token_hash = $1
	`

	res := &models.SubdomainReservation{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&res.ID,
		&res.Subdomain,
		&res.Email,
		&res.CompanyName,
		&res.ConfirmTokenHash,
		&res.ExpiresAt,
		&res.ConfirmedAt,
		&res.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// CreateReservation inserts a new subdomain reservation with the given expiry
// window. A unique partial index allows one pending reservation per subdomain;
// expired rows for the subdomain are cleared first so a lapsed claim cannot
// hold the slot, and concurrent reserves surface a unique violation for the
// loser (code 23505, preserved in the wrapped error for callers to detect).
func (r *TenantRepository) CreateReservation(ctx context.Context, res *models.SubdomainReservation, ttl time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM subdomain_reservations
		WHERE subdomain = $1 AND confirmed_at IS NULL AND expires_at <= NOW()
	`, res.Subdomain)
	if err != nil {
		return fmt.Errorf("failed to clear expired reservations: %w", err)
	}

	query := `
		INSERT INTO subdomain_reservations (subdomain, email, company_name, confirm_token_hash, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5::interval)
		RETURNING id, expires_at, created_at
	`

	interval := fmt.Sprintf("%d seconds", int(ttl.Seconds()))
	err = r.db.QueryRowContext(ctx, query,
		res.Subdomain, res.Email, res.CompanyName, res.ConfirmTokenHash, interval,
	).Scan(&res.ID, &res.ExpiresAt, &res.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

// ConfirmReservation promotes a reservation to an active tenant with the given
// user as owner, all inside one transaction: mark the reservation confirmed,
// insert the tenant, insert the owner membership. Partial promotion is never
// visible to concurrent resolvers.
func (r *TenantRepository) ConfirmReservation(ctx context.Context, reservationID, displayName, emoji, ownerUserID string) (*models.Tenant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var subdomain string
	err = tx.QueryRowContext(ctx, `
		UPDATE subdomain_reservations
		SET confirmed_at = NOW()
		WHERE id = $1 AND confirmed_at IS NULL AND expires_at > NOW()
		RETURNING subdomain
	`, reservationID).Scan(&subdomain)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("reservation is expired or already confirmed")
		}
		return nil, fmt.Errorf("failed to confirm reservation: %w", err)
	}

	tenant := &models.Tenant{Subdomain: subdomain, DisplayName: displayName, Emoji: emoji}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (subdomain, display_name, emoji)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, subdomain, displayName, emoji).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, tenant.ID, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	return tenant, nil
}

// DeleteExpiredReservations removes reservations whose window has lapsed without
// confirmation. Returns the number of rows removed.
func (r *TenantRepository) DeleteExpiredReservations(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM subdomain_reservations
		WHERE expires_at <= NOW() AND confirmed_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reservations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows, nil
}
