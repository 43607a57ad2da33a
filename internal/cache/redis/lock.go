package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pitchside/auctiond/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua re-arms the TTL only while the key still carries the caller's
// token. A lapsed lease is never revived: once the key is gone or owned by
// another token, the extend reports failure instead.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional unlock/extend. The engine registry takes one of these
// locks per auction so exactly one instance runs a given auction's engine,
// renewing it periodically for as long as the engine stays loaded.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// lease is one held lock, fenced by its unique token.
type lease struct {
	lm       *LockManager
	key      string
	token    string
	released bool
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns the held lease; call Extend before
// the TTL lapses to keep it, and Release to give it up.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return &lease{lm: lm, key: lk, token: token}, nil
}

// Extend re-arms the lease TTL. Returns domain.ErrLockHeld when the key no
// longer carries this lease's token, meaning the lease lapsed and the key
// may belong to another instance.
func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release gives the lock up. Safe to call more than once; the token fence
// makes it a no-op if the lease already lapsed.
func (l *lease) Release() {
	if l.released {
		return
	}
	l.released = true

	// Background context so the release succeeds even if the caller's
	// context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
}

// Compile-time interface checks.
var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.Lease       = (*lease)(nil)
)
