package cache

import (
	"context"
	"time"
)

// RevocationCache fronts the persistent revocation list so the sync hot path
// does not hit the database for every token check. A cache miss is not
// authoritative; callers fall through to the repository.
type RevocationCache interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, bool, error)
	MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error
}

type NoopRevocationCache struct{}

func (NoopRevocationCache) IsRevoked(_ context.Context, _ string) (bool, bool, error) {
	return false, false, nil
}

func (NoopRevocationCache) MarkRevoked(_ context.Context, _ string, _ time.Duration) error {
	return nil
}
