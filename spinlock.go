package qev

import (
	"runtime"
	"sync/atomic"
)

// clientLock is the per-client write spinlock (spec §4.5). It busy-loops on
// a compare-and-swap from 0 to 1, yielding the scheduler between attempts
// rather than spinning hot, because callers may legitimately hold it across
// a blocking write(2)/SSL_write call.
//
// It is advertised as reentrant in the system this is modeled on, but that
// system never actually implemented the recursion counter its own comments
// promise. This implementation makes the same choice explicitly rather than
// by omission: the fast path is not reentrant, and Lock from a
// goroutine that already holds the lock deadlocks. Don't.
//
// Unlock may legitimately be called by a different goroutine than the one
// that locked it, as long as that goroutine has finished its critical
// section first. That asymmetry is inherited from the source material, not
// incidental; it is what lets on_killed release a lock taken by the read
// hook it is interrupting.
type clientLock struct {
	held atomic.Uint32
}

func (l *clientLock) Lock() {
	for !l.held.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *clientLock) Unlock() {
	l.held.CompareAndSwap(1, 0)
}

// TryLock attempts the fast path without blocking, for callers that would
// rather fail fast than spin.
func (l *clientLock) TryLock() bool {
	return l.held.CompareAndSwap(0, 1)
}
