package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veilbid/auctiond/internal/domain"
)

// releaseLua deletes a lease key only while it still carries the holder's
// token, so a worker whose lease expired mid-drain cannot release the lease a
// newer replica has since taken.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// leaseKeyPrefix namespaces lease keys away from the blacklist and rate
// limiter keys sharing the same database.
const leaseKeyPrefix = "auction:lease:"

// LockManager implements domain.LockManager as a Redis SETNX lease with a
// token-checked release. The archival worker holds a lease while draining the
// ended-auction stream so replicas never advance the cursor concurrently.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lease for key with the given TTL. It returns
// domain.ErrLockHeld while another holder has it. The returned release
// function is idempotent; the TTL bounds the damage of a holder that dies
// without calling it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	leaseKey := leaseKeyPrefix + key

	ok, err := lm.rdb.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release on a fresh context: the holder's context is usually
			// already cancelled during shutdown.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{leaseKey}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
