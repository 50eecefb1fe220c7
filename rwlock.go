package qev

import (
	"runtime"
	"sync/atomic"
)

// RWSpinLock is a reader-preferring, spin-based read/write lock built on
// atomic counters. It exists for application use around short critical
// sections (e.g. protecting a room-subscription table); the dispatcher
// never takes it internally.
//
// The policy is writer-exclusive but not starvation-free: under sustained
// read pressure a writer can in principle wait indefinitely. That is an
// accepted tradeoff, not an oversight, because every known caller uses this
// for critical sections short enough that starvation has never been
// observed in practice.
type RWSpinLock struct {
	readers atomic.Int32
	writer  atomic.Uint32
}

// RLock acquires a read lock. It increments the reader count optimistically
// and then checks for a writer; if one slipped in between the increment and
// the check, it backs out and retries.
func (l *RWSpinLock) RLock() {
	for {
		l.readers.Add(1)
		if l.writer.Load() == 0 {
			return
		}
		l.readers.Add(-1)
		runtime.Gosched()
	}
}

// RUnlock releases a read lock.
func (l *RWSpinLock) RUnlock() {
	l.readers.Add(-1)
}

// Lock acquires the write lock: claim the single writer slot with a CAS,
// then spin until every reader that got in before the claim has left.
func (l *RWSpinLock) Lock() {
	for !l.writer.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
	for l.readers.Load() != 0 {
		runtime.Gosched()
	}
}

// Unlock releases the write lock.
func (l *RWSpinLock) Unlock() {
	l.writer.Store(0)
}
