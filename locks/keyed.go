// Package locks serializes work per key, in process or across processes.
package locks

import (
	"context"
	"sync"
)

// Keyed is an in-process lock map. Entries are dropped when their last
// holder releases them, so the map stays bounded by in-flight keys.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// TryLock acquires key without waiting. An in-process lock cannot be lost,
// so ctx is returned as is.
func (k *Keyed) TryLock(ctx context.Context, key string) (context.Context, func(), bool, error) {
	e := k.acquire(key)
	if !e.mu.TryLock() {
		k.drop(key, e)
		return ctx, nil, false, nil
	}
	return ctx, k.releaser(key, e), true, nil
}

// Lock waits for key until ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquire(key)
	locked := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return k.releaser(key, e), nil
	case <-ctx.Done():
		// Hand the lock back once the waiter gets it.
		go func() {
			<-locked
			e.mu.Unlock()
			k.drop(key, e)
		}()
		return nil, ctx.Err()
	}
}

func (k *Keyed) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) drop(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *Keyed) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.drop(key, e)
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
