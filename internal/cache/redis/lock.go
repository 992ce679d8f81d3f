package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/teusbenschop/cryptobot/internal/domain"
)

// releaseScript deletes a lock key only when it still carries the caller's
// token. Without the token check, a holder whose TTL lapsed could delete the
// lock a successor has since acquired.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager on Redis SET NX. The scheduler
// locks each record as "path:<id>" before driving it, so two engine instances
// sharing the database never place orders for the same cycle. The TTL bounds
// how long a crashed holder can block a record.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager on the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb}
}

var _ domain.LockManager = (*LockManager)(nil)

func lockKey(key string) string {
	return keyspace + "lock:" + key
}

// releaseTimeout bounds the unlock call, which runs on its own context so a
// cancelled caller still releases the lock.
const releaseTimeout = 5 * time.Second

// Acquire takes the lock for key with the given TTL and returns a release
// function, or domain.ErrLockHeld when another holder has it. The release
// function may be called more than once; only the first call does anything.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
