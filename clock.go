package qev

import (
	"sync/atomic"
	"time"
)

// approxClock is an injectable stand-in for the single process-wide
// qev_time the original core maintains, refreshed every fifth dispatch-loop
// iteration rather than read fresh on every use. Modeling it as a field on
// Dispatcher instead of a package-level global keeps multiple dispatchers
// in the same process (and tests) isolated from each other.
type approxClock struct {
	nowUnixNano atomic.Int64
}

func newApproxClock() *approxClock {
	c := &approxClock{}
	c.refresh()
	return c
}

func (c *approxClock) refresh() {
	c.nowUnixNano.Store(time.Now().UnixNano())
}

// Now returns the clock's last refresh, not a fresh syscall — callers that
// need precise timing should use time.Now() directly.
func (c *approxClock) Now() time.Time {
	return time.Unix(0, c.nowUnixNano.Load())
}
