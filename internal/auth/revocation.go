// revocation.go marks sessions for forced re-authentication via per-user Redis
// stamps. A role change writes a stamp for the target; any token issued before
// the stamp is refused at extraction, so a stale token cannot keep operating
// under a revoked permission set.
package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stamps stores per-user re-authentication stamps in Redis. Entries expire
// after tokenTTL: once every token minted before the stamp has itself expired,
// the stamp serves no purpose.
type Stamps struct {
	client   *redis.Client
	tokenTTL time.Duration
}

// NewStamps creates a stamp store. tokenTTL should match the session token
// lifetime.
func NewStamps(client *redis.Client, tokenTTL time.Duration) *Stamps {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Stamps{client: client, tokenTTL: tokenTTL}
}

func stampKey(userID string) string {
	return "reauth:" + userID
}

// MarkReauthRequired stamps the user so sessions issued before now are refused.
func (s *Stamps) MarkReauthRequired(ctx context.Context, userID string) error {
	return s.client.Set(ctx, stampKey(userID), strconv.FormatInt(time.Now().Unix(), 10), s.tokenTTL).Err()
}

// RequiresReauth reports whether a token issued at issuedAt predates the user's
// re-auth stamp. Redis errors read as "no stamp" — revocation is a best-effort
// tightening on top of token expiry, and failing closed here would lock every
// user out for the duration of a Redis outage. Errors are logged and counted
// so the degraded state is visible.
func (s *Stamps) RequiresReauth(ctx context.Context, userID string, issuedAt time.Time) bool {
	val, err := s.client.Get(ctx, stampKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("re-auth stamp read failed", "user_id", userID, "error", err)
		}
		return false
	}

	stamp, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("malformed re-auth stamp", "user_id", userID, "value", val)
		return false
	}

	// Tokens minted in the same second as the stamp are refused too; the stamp
	// records "everything at or before this instant is stale".
	return issuedAt.Unix() <= stamp
}
