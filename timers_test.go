//go:build linux

package qev

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6: an EXCLUSIVE timer's callback must never run concurrently with
// itself across workers, even under a short period and many workers.
func TestTimer_ExclusiveNeverConcurrent(t *testing.T) {
	d, err := New(Hooks{}, WithWorkers(8))
	require.NoError(t, err)
	defer d.Close()

	var inside atomic.Int32
	var fires atomic.Int32
	var violated atomic.Bool

	err = d.AddTimer(TimerSpec{
		Interval: time.Millisecond,
		Flags:    TimerExclusive,
		Fn: func() {
			if inside.Add(1) != 1 {
				violated.Store(true)
			}
			fires.Add(1)
			inside.Add(-1)
		},
	})
	require.NoError(t, err)

	go d.Run()

	require.Eventually(t, func() bool {
		return fires.Load() > 50
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, violated.Load(), "exclusive timer callback must never run concurrently with itself")
}
