/*
Package lock provides per-item mutual exclusion.

PURPOSE:
  Every read-validate-write on a jewelry item (payment, transfer, return,
  release, delete) runs while holding that item's lock, so two requests can
  never validate against the same stale balance. Different items never
  contend.

IMPLEMENTATIONS:
  Keyed: in-process map of mutexes. One server process.
  Redis: SET NX lease. Several server replicas sharing one database.

CANCELLATION:
  Waiting honours ctx. When ctx is done before the lock is acquired, Lock
  returns an error wrapping pledge.ErrLockTimeout.
*/
package lock

import (
	"context"
	"time"
)

// Locker acquires the lock named key. The returned unlock must be called
// exactly once; calling it more than once is a no-op.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ItemKey namespaces item ids so other callers can share a Locker.
func ItemKey(id string) string { return "item:" + id }

// Bounded caps how long each Lock call waits, on top of the caller's ctx.
// A zero Wait leaves the caller's deadline alone.
type Bounded struct {
	Locker
	Wait time.Duration
}

func (b Bounded) Lock(ctx context.Context, key string) (func(), error) {
	if b.Wait <= 0 {
		return b.Locker.Lock(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, b.Wait)
	defer cancel()
	return b.Locker.Lock(ctx, key)
}
