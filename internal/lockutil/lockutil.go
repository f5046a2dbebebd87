// Package lockutil provides a mutex whose acquisition is bounded by a timeout.
//
// Shared state in meshlink (the subscription registry, the routing table) is
// guarded by TimedMutex so that a goroutine stuck inside a critical section
// surfaces as ErrLockTimeout in its callers instead of a silent deadlock.
package lockutil

import (
	"errors"
	"time"
)

// ErrLockTimeout is returned when a lock cannot be acquired in time.
var ErrLockTimeout = errors.New("lockutil: lock acquisition timed out")

// TimedMutex is a mutual exclusion lock with timeout-bounded acquisition.
// The zero value is not usable; create one with New.
type TimedMutex struct {
	ch chan struct{}
}

// New returns an unlocked TimedMutex.
func New() *TimedMutex {
	return &TimedMutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex, waiting at most timeout.
// A timeout of zero or less waits indefinitely.
func (m *TimedMutex) Lock(timeout time.Duration) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}

	if timeout <= 0 {
		m.ch <- struct{}{}
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("lockutil: unlock of unlocked TimedMutex")
	}
}
