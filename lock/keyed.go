package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/girvi-engine/pledge"
)

// Keyed is an in-process Locker. Entries are reference counted and removed
// once nobody holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1); a send acquires, a receive releases
	refs int
}

var _ Locker = (*Keyed)(nil)

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				k.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: %s: %v", pledge.ErrLockTimeout, key, ctx.Err())
	}
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
