// Package mutexmap provides a map of per-key locks, used by the build
// store to deduplicate concurrent builds of the same artifact within
// a single process.
package mutexmap

import (
	"context"
	"sync"
)

// Map is a map of mutexes keyed by a comparable type. The zero value
// is an empty map, ready to use.
type Map[T comparable] struct {
	mu sync.Mutex
	m  map[T]<-chan struct{}
}

// Lock waits until it can either acquire the lock for k or ctx is
// done. On success it returns an unlock function that must be called
// to release the lock; on failure it returns ctx.Err(). Until unlock
// is called, every other call to Lock(ctx, k) for the same k blocks.
func (mm *Map[T]) Lock(ctx context.Context, k T) (unlock func(), err error) {
	for {
		mm.mu.Lock()
		workDone := mm.m[k]
		if workDone == nil {
			c := make(chan struct{})
			if mm.m == nil {
				mm.m = make(map[T]<-chan struct{})
			}
			mm.m[k] = c
			mm.mu.Unlock()
			return func() {
				mm.mu.Lock()
				delete(mm.m, k)
				close(c)
				mm.mu.Unlock()
			}, nil
		}
		mm.mu.Unlock()

		select {
		case <-workDone:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
