//go:build linux

package qev

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxPollFDs bounds direct-indexed lookup the same way the reference poller
// in this package's lineage does: a flat array beats a map under the
// dispatcher's read-heavy, write-rare access pattern.
const maxPollFDs = 1 << 20

// pollEvents is the backend-neutral readiness mask the dispatcher reasons
// about, decoupled from unix.EPOLLIN/EPOLLOUT so a future non-Linux backend
// (kqueue, IOCP) can implement the same pollBackend interface.
type pollEvents uint32

const (
	pollRead pollEvents = 1 << iota
	pollWrite
	pollError
	pollHangup
)

// pollCallback is invoked with the fd's readiness mask. Registering a
// closure here, rather than an integer tag compared against a client
// pointer, is what keeps timer fds and client fds from ever needing to be
// told apart by guessing: each fd's callback already knows what it is.
type pollCallback func(pollEvents)

type fdSlot struct {
	cb     pollCallback
	active bool
}

// epollBackend is the Linux implementation of pollBackend: one shared
// epoll set that every dispatcher worker blocks on via EpollWait, with
// edge-triggered registration so a worker only wakes when new readiness
// appears, never merely because data is still sitting unread.
type epollBackend struct {
	epfd    int
	version atomic.Uint64

	mu   sync.RWMutex
	fds  []fdSlot
	size int
}

func newEpollBackend() (*epollBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newError(KindInit, "epoll_create1", err)
	}
	return &epollBackend{epfd: fd}, nil
}

func (p *epollBackend) close() error {
	return unix.Close(p.epfd)
}

func (p *epollBackend) grow(fd int) {
	if fd < p.size {
		return
	}
	n := p.size
	if n == 0 {
		n = 1024
	}
	for n <= fd {
		n *= 2
	}
	if n > maxPollFDs {
		n = maxPollFDs
	}
	grown := make([]fdSlot, n)
	copy(grown, p.fds)
	p.fds = grown
	p.size = n
}

// register adds fd to the epoll set in edge-triggered mode. ev must
// reflect the interest mask as of registration; use modify to change it
// later rather than re-registering.
func (p *epollBackend) register(fd int, ev pollEvents, cb pollCallback) error {
	p.mu.Lock()
	p.grow(fd)
	p.fds[fd] = fdSlot{cb: cb, active: true}
	p.version.Add(1)
	p.mu.Unlock()

	epev := &unix.EpollEvent{Events: toEpoll(ev) | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, epev); err != nil {
		p.mu.Lock()
		p.fds[fd] = fdSlot{}
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollBackend) modify(fd int, ev pollEvents) error {
	epev := &unix.EpollEvent{Events: toEpoll(ev) | unix.EPOLLET, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, epev)
}

func (p *epollBackend) unregister(fd int) error {
	p.mu.Lock()
	if fd < len(p.fds) {
		p.fds[fd] = fdSlot{}
	}
	p.version.Add(1)
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until at least one fd is ready or timeoutMs elapses, then
// invokes each ready fd's callback. Multiple dispatcher workers call wait
// concurrently on the same backend; the kernel distributes ready events
// across whichever workers are currently blocked in EpollWait, which is
// what gives the dispatcher its fan-out without a central readiness queue.
func (p *epollBackend) wait(timeoutMs int, buf []unix.EpollEvent) (int, error) {
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)

		p.mu.RLock()
		var slot fdSlot
		if fd < len(p.fds) {
			slot = p.fds[fd]
		}
		p.mu.RUnlock()

		if slot.active && slot.cb != nil {
			slot.cb(fromEpoll(buf[i].Events))
		}
	}
	return n, nil
}

func toEpoll(ev pollEvents) uint32 {
	var out uint32
	if ev&pollRead != 0 {
		// EPOLLRDHUP rides along with every read registration so a clean
		// peer disconnect is reported as its own event instead of silently
		// waiting for a 0-byte read the application hook may never ask for.
		out |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&pollWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(raw uint32) pollEvents {
	var ev pollEvents
	if raw&unix.EPOLLIN != 0 {
		ev |= pollRead
	}
	if raw&unix.EPOLLOUT != 0 {
		ev |= pollWrite
	}
	if raw&unix.EPOLLERR != 0 {
		ev |= pollError
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= pollHangup
	}
	return ev
}

func newPollBackend() (pollBackend, error) {
	return newEpollBackend()
}
