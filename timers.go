package qev

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// TimerFlags mirrors QEV_TIMER_EXCLUSIVE / QEV_TIMER_DELAYED.
type TimerFlags uint32

const (
	// TimerExclusive routes firing through the same one-token read
	// protocol client reads use (§4.7): concurrent wakeups from a backed-up
	// timerfd collapse into a single logical fire instead of re-entering
	// the callback from multiple workers at once.
	TimerExclusive TimerFlags = 1 << iota
	// TimerDelayed marks a one-shot timer; without it the timer rearms
	// itself at the same interval every time it fires.
	TimerDelayed
)

// TimerSpec describes a timer registration: how often (or, combined with
// TimerDelayed, how long from now) it should fire, which flags govern its
// concurrency behavior, and the callback to invoke.
type TimerSpec struct {
	Interval time.Duration
	Flags    TimerFlags
	Fn       func()
}

// timer is the live registration backing a TimerSpec: a timerfd plus, for
// exclusive timers, the same fetch-and-add token counter client reads use.
type timer struct {
	fd      int
	fn      func()
	flags   TimerFlags
	readOps atomic.Uint32
	disp    *Dispatcher
}

func (d *Dispatcher) addTimer(spec TimerSpec) (*timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, newError(KindInit, "timerfd_create", err)
	}

	interval := spec.Interval
	its := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(interval.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if spec.Flags&TimerDelayed != 0 {
		its.Interval = unix.NsecToTimespec(0)
	}
	if err := unix.TimerfdSettime(fd, 0, &its, nil); err != nil {
		unix.Close(fd)
		return nil, newError(KindInit, "timerfd_settime", err)
	}

	t := &timer{fd: fd, fn: spec.Fn, flags: spec.Flags, disp: d}

	if err := d.poll.register(fd, pollRead, t.onReadable); err != nil {
		unix.Close(fd)
		return nil, newError(KindInit, "epoll_ctl(timer)", err)
	}
	return t, nil
}

// onReadable is the pollCallback for a timerfd. It always drains the
// expiration counter (the read is mandatory with timerfd, or the fd stays
// readable and spins the poller), then decides whether to actually invoke
// fn based on the exclusivity flag.
func (t *timer) onReadable(pollEvents) {
	var buf [8]byte
	_, _ = unix.Read(t.fd, buf[:])

	if t.flags&TimerExclusive == 0 {
		t.fn()
		return
	}

	// Identical shape to clientRead's token protocol: only the goroutine
	// that takes the counter from 0 to non-zero runs fn, and it keeps
	// running it for every wakeup absorbed while it was busy.
	if t.readOps.Add(1) != 1 {
		return
	}
	for {
		t.fn()
		if t.readOps.Add(^uint32(0)) == 0 {
			break
		}
	}
}

func (t *timer) close() error {
	_ = t.disp.poll.unregister(t.fd)
	return unix.Close(t.fd)
}
