// Package storelock implements the shared/exclusive file lock that
// arbitrates between builds (shared) and garbage collection
// (exclusive) over a single store root, per the store's concurrency
// model: builds only ever add content, so many may run at once, but
// a collection pass must see a quiescent store.
package storelock

import (
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = ".hashdist-lock"

// Lock is an open handle on a store root's lock file.
type Lock struct {
	f *os.File
}

// Open opens (creating if necessary) the lock file under root,
// without acquiring it.
func Open(root string) (*Lock, error) {
	f, err := os.OpenFile(filepath.Join(root, lockFileName), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open store lock: %w", err)
	}
	return &Lock{f: f}, nil
}

// Close releases any held lock and closes the underlying file.
func (l *Lock) Close() error {
	return l.f.Close()
}

// SharedLock acquires a shared (read) lock, blocking until available,
// for the duration of a single build.
func (l *Lock) SharedLock() error {
	return flock(l.f, false, true)
}

// ExclusiveLock acquires an exclusive lock, blocking until no shared
// or exclusive holder remains, for the duration of a GC pass.
func (l *Lock) ExclusiveLock() error {
	return flock(l.f, true, true)
}

// TryExclusiveLock attempts a non-blocking exclusive acquire,
// returning false rather than blocking if the store is busy.
func (l *Lock) TryExclusiveLock() (bool, error) {
	err := flock(l.f, true, false)
	if err == errWouldBlock {
		return false, nil
	}
	return err == nil, err
}

// Unlock releases whatever lock is currently held.
func (l *Lock) Unlock() error {
	return unflock(l.f)
}
