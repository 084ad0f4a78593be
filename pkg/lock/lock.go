// Package lock provides a Redis-backed mutual exclusion lock so that only one
// worker replica runs a periodic sweep at a time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires short-lived named locks.
type Locker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewLocker creates a Locker. Keys are stored as "<prefix><name>".
func NewLocker(client *redis.Client, prefix string, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, prefix: prefix, logger: logger}
}

// TryLock attempts to take the named lock for ttl. When ok is false another
// holder has it. The returned release func is safe to call once.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	key := l.prefix + name
	token := uuid.New().String()
	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		// Use a fresh context: the caller's may already be cancelled on shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("release lock failed", zap.String("lock", name), zap.Error(err))
		}
	}
	return release, true, nil
}
