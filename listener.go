package qev

import (
	"crypto/tls"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen opens a non-blocking, edge-triggered TCP listener bound to
// address and wires its accept events into the dispatcher's worker pool.
// It returns once the socket is listening; Run must still be called (or
// already be running) for connections to actually be accepted.
func (d *Dispatcher) Listen(address string) error {
	return d.listen(address, nil)
}

// ListenTLS is Listen, but every accepted connection is handed a TLS
// server session built from cfg before OnNew fires for it.
func (d *Dispatcher) ListenTLS(address string, cfg TLSConfig) error {
	tlsCfg, err := cfg.buildServerConfig()
	if err != nil {
		return newError(KindInit, "tls_config", err)
	}
	return d.listen(address, tlsCfg)
}

func (d *Dispatcher) listen(address string, tlsCfg *tls.Config) error {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return newError(KindListen, "resolve", err)
	}

	sa, domain, err := sockaddr(addr)
	if err != nil {
		return newError(KindListen, "sockaddr", err)
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return newError(KindListen, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return newError(KindListen, "setsockopt", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return newError(KindListen, "setnonblock", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return newError(KindListen, "bind", err)
	}

	backlog := d.cfg.Backlog
	if backlog <= 0 {
		backlog = 1000
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return newError(KindListen, "listen", err)
	}

	if err := d.poll.register(fd, pollRead, func(pollEvents) { d.accept(fd, tlsCfg) }); err != nil {
		_ = unix.Close(fd)
		return newError(KindListen, "register", err)
	}

	d.mu.Lock()
	d.listeners = append(d.listeners, fd)
	d.mu.Unlock()
	return nil
}

// accept drains up to MaxAcceptsPerWake connections from a ready listening
// socket. Edge-triggered mode only tells a worker once that the listener
// is readable, so a naive accept-until-EAGAIN loop is correct but can
// starve every other fd that worker owns during a connection storm; the
// cap bounds that, and the explicit re-arm at the end (or on a spurious
// error) makes sure the remainder is picked up on the next wakeup instead
// of silently going unnoticed.
func (d *Dispatcher) accept(fd int, tlsCfg *tls.Config) {
	max := d.cfg.MaxAcceptsPerWake
	if max <= 0 {
		max = 64
	}

	for i := 0; i < max; i++ {
		nfd, _, err := unix.Accept(fd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			default:
				_ = d.poll.modify(fd, pollRead)
				d.cfg.Logger.WithError(err).WithField("op", "accept").Error("accept failed")
				return
			}
		}
		d.adopt(nfd, tlsCfg)
	}

	_ = d.poll.modify(fd, pollRead)
}

func (d *Dispatcher) adopt(fd int, tlsCfg *tls.Config) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return
	}

	var flags Flags
	var sess *tlsSession
	if tlsCfg != nil {
		flags |= FlagTLS | FlagTLSHandshaking
		sess = newTLSServerSession(fdConn{fd: fd}, tlsCfg)
	}

	c := newClient(d, fd, flags)
	c.tls = sess

	onReadable := func(ev pollEvents) {
		// Remote hang-up takes priority over readability, matching the
		// classification order the dispatch loop is specified to use: a
		// peer that has gone away is closed here even if the application's
		// OnRead would otherwise never notice on its own.
		if ev&pollHangup != 0 {
			d.closeClient(c)
			return
		}
		d.clientRead(c)
	}
	// OnNew runs before the fd is registered, so no worker can reach
	// OnRead for this client ahead of it.
	announced := tlsCfg == nil && d.hooks.OnNew != nil
	if announced {
		d.hooks.OnNew(c)
		if c.IsClosing() {
			return
		}
	}

	if err := d.poll.register(fd, pollRead, onReadable); err != nil {
		if announced {
			d.closeClient(c)
			return
		}
		_ = unix.Close(fd)
		return
	}
}

func sockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], v4)
		return sa, unix.AF_INET, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, 0, fmt.Errorf("qev: invalid address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], v6)
	return sa, unix.AF_INET6, nil
}
