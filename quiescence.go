package qev

import "sync"

// quiescenceQueue is the two-bucket deferred-free queue that makes it safe
// to reclaim a Client after it has closed, even though other worker
// goroutines may still be mid-dispatch holding a pointer to it.
//
// Workers "check in" once per dispatch-loop iteration by calling tick with
// the bit they were assigned at register time. Once every registered worker
// has checked in during the current bucket, the bucket rotates: the bucket
// that was "current" becomes the frozen one, a fresh empty bucket takes
// its place, and everything that had been sitting in the previously frozen
// bucket is freed. An item added during tick T therefore survives until the
// rotation that completes tick T+1 — a full extra cycle of margin, which is
// enough for any worker that read the old "current bucket" pointer before
// the rotation to finish using the item it grabbed.
type quiescenceQueue struct {
	mu          sync.Mutex
	active      []*Client // receives new adds
	frozen      []*Client // filled by the previous rotation, drained by the next
	threads     uint32    // next bit to hand out
	threadsMask uint32    // OR of every bit handed out so far
	checkedIn   uint32
	freeFn      func(*Client)
}

func newQuiescenceQueue(freeFn func(*Client)) *quiescenceQueue {
	return &quiescenceQueue{freeFn: freeFn}
}

// register assigns the calling worker a tick bit. Each worker registers
// once, before its own first tick; rotations only wait for workers that
// have already registered. The bit assigned here is the one passed to every
// subsequent tick call from that worker.
func (q *quiescenceQueue) register() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	bit := uint32(1) << q.threads
	q.threads++
	q.threadsMask |= bit
	return bit
}

// add enqueues a client for deferred free. Called once, from closeClient,
// on the 0->1 transition of FlagClosing.
func (q *quiescenceQueue) add(c *Client) {
	q.mu.Lock()
	q.active = append(q.active, c)
	q.mu.Unlock()
}

// tick is called once per dispatch-loop iteration by each registered
// worker, passing the bit it was assigned at register time. It returns the
// bucket frozen by the previous rotation (nil if no rotation happened this
// call, or if that bucket was empty), so the caller can free items outside
// the lock.
//
// An item added to active during tick T survives the rotation that ends
// tick T (at that point it merely becomes frozen, not yet freed) and is
// only handed back here at the rotation ending tick T+1, once frozen
// itself rotates out.
func (q *quiescenceQueue) tick(bit uint32) []*Client {
	q.mu.Lock()
	q.checkedIn |= bit
	if q.checkedIn != q.threadsMask {
		q.mu.Unlock()
		return nil
	}

	q.checkedIn = 0
	drained := q.frozen
	q.frozen = q.active
	q.active = nil
	q.mu.Unlock()

	return drained
}

// run invokes tick and frees whatever bucket rotated out, if any. This is
// the method the dispatcher actually calls; tick is split out separately so
// tests can observe rotation without relying on freeFn side effects.
func (q *quiescenceQueue) run(bit uint32) {
	for _, c := range q.tick(bit) {
		q.freeFn(c)
	}
}
