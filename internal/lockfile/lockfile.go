// Package lockfile wraps gofrs/flock for the daemon's single-instance
// enforcement, pulled out into a small reusable helper since the same
// lock-then-check idiom appears in two places (the daemon lifecycle lock
// and the registry's read-modify-write file).
package lockfile

import (
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// held maps each *os.File locked by FlockExclusiveBlocking to its flock.Flock.
var held sync.Map

// FlockExclusiveBlocking acquires an exclusive lock on f, blocking until it
// is available. f must already be open for read/write.
func FlockExclusiveBlocking(f *os.File) error {
	lock := flock.New(f.Name())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire exclusive lock on %s: %w", f.Name(), err)
	}
	held.Store(f, lock)
	return nil
}

// FlockUnlock releases a lock previously acquired on f's path.
func FlockUnlock(f *os.File) error {
	v, ok := held.LoadAndDelete(f)
	if !ok {
		return nil
	}
	return v.(*flock.Flock).Unlock()
}

// DaemonLock guards a single daemon process per project data directory. It
// wraps one flock.Flock over "<dir>/daemon.lock".
type DaemonLock struct {
	lock *flock.Flock
	path string
}

// NewDaemonLock builds a lock for dir/daemon.lock without acquiring it.
func NewDaemonLock(dir string) *DaemonLock {
	path := dir + "/daemon.lock"
	return &DaemonLock{lock: flock.New(path), path: path}
}

// TryLock attempts a non-blocking exclusive lock. Contention here is
// benign: the caller should exit 0, not error.
func (d *DaemonLock) TryLock() (bool, error) {
	ok, err := d.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try daemon lock %s: %w", d.path, err)
	}
	return ok, nil
}

// Unlock releases the lock, a no-op if never acquired.
func (d *DaemonLock) Unlock() error {
	if !d.lock.Locked() {
		return nil
	}
	return d.lock.Unlock()
}

// TryDaemonLock reports whether a daemon already holds the lock in dir
// (true means "someone else holds it", i.e. a daemon is running), used by
// discovery to distinguish "no daemon" from "daemon running, registry
// stale" without attempting any RPC.
func TryDaemonLock(dir string) (bool, error) {
	l := flock.New(dir + "/daemon.lock")
	ok, err := l.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock %s: %w", dir, err)
	}
	if ok {
		_ = l.Unlock()
		return false, nil
	}
	return true, nil
}
