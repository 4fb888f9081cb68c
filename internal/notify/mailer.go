// Package notify abstracts outbound email. Real delivery sits behind the
// Mailer interface; this repo ships only the structured-log sink, which is
// enough for development and for tests asserting that a send was attempted.
package notify

import (
	"context"
	"log/slog"
)

// Mailer sends transactional email.
type Mailer interface {
	// SendSignupConfirmation emails the reservation confirmation link.
	SendSignupConfirmation(ctx context.Context, email, subdomain, confirmURL string) error
	// SendInvitation emails a membership invitation link.
	SendInvitation(ctx context.Context, email, tenantName, role, acceptURL string) error
}

// LogMailer writes would-be emails to the structured log instead of sending.
type LogMailer struct{}

// NewLogMailer creates a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) SendSignupConfirmation(ctx context.Context, email, subdomain, confirmURL string) error {
	slog.Info("signup confirmation email",
		"to", email,
		"subdomain", subdomain,
		"confirm_url", confirmURL,
	)
	return nil
}

func (m *LogMailer) SendInvitation(ctx context.Context, email, tenantName, role, acceptURL string) error {
	slog.Info("invitation email",
		"to", email,
		"tenant", tenantName,
		"role", role,
		"accept_url", acceptURL,
	)
	return nil
}
