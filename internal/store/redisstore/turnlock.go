package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/mindflow/internal/observability"
)

const (
	turnLockPrefix = "chat:turnlock:"
	defaultLockTTL = 60 * time.Second
	defaultRetry   = 50 * time.Millisecond
)

// release only deletes the key if it still holds our token, so an expired
// lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLock is a chat turn lock shared by every API and worker instance.
// The TTL must outlive the slowest turn (model timeout plus persistence).
type TurnLock struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func (s *Store) TurnLock(ttl time.Duration) *TurnLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &TurnLock{rdb: s.rdb, ttl: ttl, retry: defaultRetry}
}

func turnLockKey(key string) string { return turnLockPrefix + key }

// Lock polls SET NX PX until it wins or ctx is done.
func (l *TurnLock) Lock(ctx context.Context, key string) (func(), error) {
	k := turnLockKey(key)
	token := uuid.NewString()

	t := time.NewTicker(l.retry)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("turn lock %s: %w", key, err)
		}
		if ok {
			return l.unlockFunc(k, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *TurnLock) unlockFunc(k, token string) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		// the request context may already be gone; release on a fresh one
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
			observability.Logger().Warn("turn lock release failed", "key", k, "error", err)
		}
	}
}
