// Package userlock serializes mutating work per user. Learning updates,
// flow transitions, and reconciles for one user must not interleave,
// while different users proceed in parallel.
package userlock

import "sync"

// Locker hands out one mutex per user key. The zero value is ready to use.
//
// Locks are never evicted; the per-user footprint is one mutex, which is
// acceptable for the user counts this daemon serves.
type Locker struct {
	locks sync.Map // userID -> *sync.Mutex
}

// Lock acquires the mutex for userID and returns the release func.
//
//	defer locker.Lock(userID)()
func (l *Locker) Lock(userID string) (unlock func()) {
	v, _ := l.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Do runs fn while holding the user's mutex.
func (l *Locker) Do(userID string, fn func() error) error {
	defer l.Lock(userID)()
	return fn()
}
