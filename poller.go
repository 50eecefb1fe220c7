//go:build linux

package qev

import "golang.org/x/sys/unix"

// pollBackend is the seam a non-Linux port would implement (kqueue on
// BSD/Darwin, IOCP on Windows). Everything above this interface —
// dispatcher, listener, timers — is written against pollEvents/pollCallback
// and never touches unix.EpollEvent directly, except this file's buffer
// type, which epollBackend.wait happens to share the layout of.
type pollBackend interface {
	register(fd int, ev pollEvents, cb pollCallback) error
	modify(fd int, ev pollEvents) error
	unregister(fd int) error
	wait(timeoutMs int, buf []unix.EpollEvent) (int, error)
	close() error
}
