// Package models - audit_log.go defines the audit trail entry recorded for
// authenticated write operations.
package models

import "time"

// AuditLog records a single authenticated action.
type AuditLog struct {
	ID        string     `json:"id"`
	UserID    *string    `json:"user_id,omitempty"`
	TenantID  *string    `json:"tenant_id,omitempty"`
	Action    string     `json:"action"`
	IPAddress *string    `json:"ip_address,omitempty"`
	UserAgent *string    `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
