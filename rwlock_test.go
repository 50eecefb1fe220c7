package qev

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRWSpinLock_ReadersConcurrent(t *testing.T) {
	var l RWSpinLock
	var active atomic.Int32
	var maxSeen atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RLock()
			defer l.RUnlock()
			n := active.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Greater(t, maxSeen.Load(), int32(1), "readers should run concurrently")
}

func TestRWSpinLock_WriterExclusiveAndEventuallyAcquires(t *testing.T) {
	var l RWSpinLock
	var readersActive atomic.Int32
	var violated atomic.Bool

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l.RLock()
				readersActive.Add(1)
				if l.writer.Load() != 0 {
					violated.Store(true)
				}
				readersActive.Add(-1)
				l.RUnlock()
			}
		}()
	}

	// Give readers a head start, then the writer must still get in.
	time.Sleep(5 * time.Millisecond)
	l.Lock()
	assert.Equal(t, int32(0), readersActive.Load(), "writer must hold exclusively")
	l.Unlock()

	close(stop)
	wg.Wait()

	assert.False(t, violated.Load(), "no observer should ever see readers>0 and writer=1 simultaneously")
}
