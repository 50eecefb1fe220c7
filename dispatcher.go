package qev

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Dispatcher owns one shared poll backend and a pool of worker goroutines
// that all block in it concurrently. There is no central readiness queue:
// the kernel itself distributes ready fds across whichever workers are
// currently parked in EpollWait, and clientRead's token protocol is what
// keeps two workers from ever running the same client's hooks at once
// despite that fan-out.
type Dispatcher struct {
	cfg   Config
	hooks Hooks
	poll  pollBackend
	clock *approxClock
	quies *quiescenceQueue

	mu        sync.Mutex
	listeners []int
	timers    []*timer

	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New builds a Dispatcher around the given hooks. It does not start
// accepting or polling anything until Run is called.
func New(hooks Hooks, opts ...Option) (*Dispatcher, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}

	poll, err := newPollBackend()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:   cfg,
		hooks: hooks,
		poll:  poll,
		clock: newApproxClock(),
		stop:  make(chan struct{}),
	}
	d.quies = newQuiescenceQueue(d.freeClient)
	return d, nil
}

// Run starts the worker pool and blocks until Close is called. Call it
// from its own goroutine if the caller needs to do other work concurrently.
func (d *Dispatcher) Run() {
	d.wg.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		go d.runWorker()
	}
	d.wg.Wait()
}

func (d *Dispatcher) runWorker() {
	defer d.wg.Done()

	bit := d.quies.register()
	buf := make([]unix.EpollEvent, d.cfg.MaxEventsPerWait)
	timeoutMs := int(d.cfg.PollTimeout / time.Millisecond)
	if timeoutMs <= 0 {
		timeoutMs = 100
	}

	ticks := 0
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		if _, err := d.poll.wait(timeoutMs, buf); err != nil {
			d.cfg.Logger.WithError(err).WithField("kind", KindPoll.String()).Error("poll wait failed")
		}

		// Every fifth iteration the worker refreshes the shared approximate
		// clock, mirroring the original core's "refresh qev_time every 5
		// dispatch cycles" cadence rather than paying a time syscall on
		// every wakeup. OnTick itself runs every iteration, after the
		// quiescence tick below, regardless of the clock's own cadence.
		ticks++
		if ticks%5 == 0 {
			d.clock.refresh()
		}

		d.quies.run(bit)

		if d.hooks.OnTick != nil {
			d.hooks.OnTick()
		}
	}
}

// Close stops every worker and tears down the poll backend. It blocks
// until all workers have returned from their current EpollWait.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stop)
	d.wg.Wait()

	d.mu.Lock()
	for _, t := range d.timers {
		_ = t.close()
	}
	for _, fd := range d.listeners {
		_ = unix.Close(fd)
	}
	d.mu.Unlock()

	return d.poll.close()
}

// AddTimer registers a timer against the dispatcher's poll backend. It may
// be called before or after Run; either way the timer starts firing as
// soon as some worker's EpollWait observes it.
func (d *Dispatcher) AddTimer(spec TimerSpec) error {
	t, err := d.addTimer(spec)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.timers = append(d.timers, t)
	d.mu.Unlock()
	return nil
}

// clientRead implements the read-token protocol (§4.7): the goroutine that
// takes readOps from 0 to 1 runs the hook (or a handshake step), and keeps
// running it for every additional wakeup that arrived while it was busy,
// instead of letting those wakeups spawn concurrent hook invocations. It is
// unexported so application code can never invoke it directly and can only
// ever reach a client's read hook the way the protocol intends.
func (d *Dispatcher) clientRead(c *Client) {
	if c.readOps.Add(1) != 1 {
		return
	}

	for {
		if c.flags.has(FlagTLSHandshaking) {
			switch c.tls.step() {
			case handshakeDone:
				c.flags.clear(FlagTLSHandshaking)
				if d.hooks.OnNew != nil {
					d.hooks.OnNew(c)
				}
			case handshakeFailed:
				d.closeClient(c)
				return
			case handshakeWantIO:
				// No progress this wakeup; fall through to the loop
				// condition below and let a queued wakeup try again.
			}
		} else if d.hooks.OnRead != nil {
			if !d.hooks.OnRead(c) {
				d.closeClient(c)
				return
			}
		}

		if c.readOps.Add(^uint32(0)) == 0 || c.IsClosing() {
			return
		}
	}
}

// closeClient implements the close protocol (§4.4, §4.7): the first caller
// to observe the 0->1 transition of FlagClosing runs OnKilled, unregisters
// and closes the socket, and hands the client to the quiescence queue for
// deferred free. Every later caller (a concurrent Close, or clientRead
// observing IsClosing) is a no-op.
func (d *Dispatcher) closeClient(c *Client) {
	prior := c.flags.set(FlagClosing)
	if prior&FlagClosing != 0 {
		return
	}

	if d.hooks.OnKilled != nil {
		d.hooks.OnKilled(c)
	}

	fd := c.fd.Swap(-1)
	if fd != -1 {
		_ = d.poll.unregister(int(fd))
		if c.flags.has(FlagTLS) && c.tls != nil {
			c.tls.shutdown()
		}
		_ = unix.Close(int(fd))
	}

	d.quies.add(c)
}

// freeClient is the quiescence queue's free function: by the time this
// runs, every worker has ticked at least twice since the client closed, so
// no goroutine can still be holding a pointer it read from clientRead.
func (d *Dispatcher) freeClient(c *Client) {
	if d.hooks.OnClose != nil {
		d.hooks.OnClose(c)
	}
}
