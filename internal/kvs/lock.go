// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package kvs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taibuivan/mangatrack/pkg/uuid"
)

// ErrLockHeld is returned when the lock is owned by another holder.
var ErrLockHeld = errors.New("kvs: lock already held")

// releaseScript deletes the lock only when the caller still owns it.
// A compare-and-delete avoids releasing a lock that expired and was
// re-acquired by somebody else.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewScript extends the TTL only when the caller still owns the lock.
const renewScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Lock is a single-holder distributed lock.
//
// # Semantics
//
// Acquisition is SET key token PX ttl NX; release and renewal are Lua
// compare-and-swap against the holder token. Locks are leases: an expired
// lock may be taken over, so holders must renew before TTL elapses.
type Lock struct {
	store Store
	key   string
	token string
	ttl   time.Duration
}

// AcquireLock attempts to take the named lock. Returns [ErrLockHeld] when
// another holder owns it.
func AcquireLock(context context.Context, store Store, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New()

	acquired, err := store.SetNX(context, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("kvs: lock acquire failed: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	return &Lock{store: store, key: key, token: token, ttl: ttl}, nil
}

// Renew extends the lease. Returns [ErrLockHeld] if ownership was lost.
func (lock *Lock) Renew(context context.Context) error {
	result, err := lock.store.Eval(context, renewScript, []string{lock.key}, lock.token, lock.ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("kvs: lock renew failed: %w", err)
	}
	if n, ok := result.(int64); !ok || n == 0 {
		return ErrLockHeld
	}
	return nil
}

// Release gives up the lock if still owned. Releasing a lost lock is a no-op.
func (lock *Lock) Release(context context.Context) error {
	if _, err := lock.store.Eval(context, releaseScript, []string{lock.key}, lock.token); err != nil {
		return fmt.Errorf("kvs: lock release failed: %w", err)
	}
	return nil
}

// Token exposes the holder token, used by the scheduler heartbeat probe.
func (lock *Lock) Token() string {
	return lock.token
}
