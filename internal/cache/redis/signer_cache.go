package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cosminimum/polycopy/internal/domain"
)

// signerTTL bounds how long a derived signer address stays cached. Derivation
// is deterministic, so a stale entry is harmless; the TTL only keeps the
// keyspace from growing with departed users.
const signerTTL = 24 * time.Hour

// SignerCache implements domain.SignerCache using Redis. Only the public
// address is cached, never key material.
type SignerCache struct {
	rdb *redis.Client
}

// NewSignerCache creates a SignerCache backed by the given Client.
func NewSignerCache(c *Client) *SignerCache {
	return &SignerCache{rdb: c.Underlying()}
}

func signerKey(userID string) string {
	return "polycopy:signer:" + userID
}

// Get returns the cached signer address for a user, or domain.ErrNotFound.
func (sc *SignerCache) Get(ctx context.Context, userID string) (string, error) {
	addr, err := sc.rdb.Get(ctx, signerKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get signer for %s: %w", userID, err)
	}
	return addr, nil
}

// Set caches the signer address for a user.
func (sc *SignerCache) Set(ctx context.Context, userID, address string) error {
	if err := sc.rdb.Set(ctx, signerKey(userID), address, signerTTL).Err(); err != nil {
		return fmt.Errorf("redis: set signer for %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignerCache = (*SignerCache)(nil)
