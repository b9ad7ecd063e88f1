package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RevocationList records per-user revocation cut-offs in Redis. Tokens issued
// before a user's cut-off are rejected by the authentication gate, which gives
// admin disable/delete immediate effect without a server-side session table.
// Entries expire after the token TTL, by which point every token they could
// reject has expired on its own.
type RevocationList struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRevocationList creates a revocation list on the given Redis client.
func NewRevocationList(client *redis.Client, tokenTTL time.Duration) *RevocationList {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &RevocationList{client: client, ttl: tokenTTL}
}

func revocationKey(userID int64) string {
	return fmt.Sprintf("revoked:user:%d", userID)
}

// RevokeUser invalidates every token the user holds at this moment.
func (rl *RevocationList) RevokeUser(ctx context.Context, userID int64) error {
	now := time.Now().Unix()
	if err := rl.client.Set(ctx, revocationKey(userID), now, rl.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record revocation for user %d: %w", userID, err)
	}
	return nil
}

// IsRevoked reports whether a token issued at the given time has been revoked.
func (rl *RevocationList) IsRevoked(ctx context.Context, userID int64, issuedAt time.Time) (bool, error) {
	val, err := rl.client.Get(ctx, revocationKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read revocation for user %d: %w", userID, err)
	}
	cutoff, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed revocation entry for user %d: %w", userID, err)
	}
	// Tokens issued in the same second as the cut-off are rejected too.
	return !issuedAt.After(time.Unix(cutoff, 0)), nil
}
