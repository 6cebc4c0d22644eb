// Package singleflight implements the Single-flight Coordinator (C7 in the
// design): de-duplication of concurrent cache misses for the same
// effective key. A registry of refcounted per-key mutexes (each
// implemented as a 1-buffered channel so context cancellation can race the
// lock acquisition) holds one entry per key currently in flight; the
// registry mutex guarding that map is released before a follower blocks
// waiting on the per-key mutex, so contention on one key never stalls
// lookups for another. The first caller to acquire a key's mutex runs fn
// and publishes its result; every later caller observes the published
// result instead of calling fn again.
package singleflight

import (
	"context"
	"sync"
)

// refCountedMutex is a mutex (implemented as a 1-buffered channel so
// acquisition can be cancelled via context) plus a reference count and the
// published result of whichever caller wins the race to run fn.
type refCountedMutex struct {
	token chan struct{} // buffered(1); receiving acquires, sending releases
	ref   int

	done bool
	val  any
	err  error
}

// Group coalesces concurrent calls for the same key so fn runs at most
// once per key while any caller is in flight for it.
type Group struct {
	mu sync.Mutex
	m  map[string]*refCountedMutex
}

// NewGroup constructs an empty coordinator.
func NewGroup() *Group { return &Group{m: make(map[string]*refCountedMutex)} }

// acquireRef returns the per-key mutex for key, creating it if absent and
// bumping its reference count. The registry mutex is held only for this
// bookkeeping, never across the per-key mutex's acquisition.
func (g *Group) acquireRef(key string) *refCountedMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.m[key]
	if !ok {
		rm = &refCountedMutex{token: make(chan struct{}, 1)}
		rm.token <- struct{}{}
		g.m[key] = rm
	}
	rm.ref++
	return rm
}

// releaseRef drops key's reference count and deletes the entry once it
// returns to zero, so the registry does not grow indefinitely.
func (g *Group) releaseRef(key string, rm *refCountedMutex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm.ref--
	if rm.ref == 0 {
		delete(g.m, key)
	}
}

// Do runs fn for key with at most one concurrent (and, within one flight,
// at most one total) execution across every caller sharing this Group:
// whichever caller is first to acquire the per-key mutex runs fn and
// publishes its result; every other caller waiting on the same key
// acquires the mutex afterward, observes the published result, and returns
// it without calling fn again.
//
// If ctx is cancelled while waiting to acquire the mutex, Do returns
// ctx.Err() without affecting the in-flight leader.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	rm := g.acquireRef(key)
	defer g.releaseRef(key, rm)

	select {
	case <-rm.token:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !rm.done {
		rm.val, rm.err = fn(ctx)
		rm.done = true
	}
	val, err := rm.val, rm.err
	rm.token <- struct{}{}
	return val, err
}
