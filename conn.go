package qev

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// fdConn adapts a non-blocking raw socket fd to net.Conn so crypto/tls can
// drive the handshake and record layer over it. The dispatcher, not this
// type, owns the fd's lifecycle: Close is a deliberate no-op so that the
// TLS session's quiet close-notify shutdown never races the dispatcher's
// own unix.Close of the socket in the close protocol (§4.4, §4.7).
//
// Every Read/Write is a single non-blocking syscall, matching the
// edge-triggered contract: the dispatcher only ever calls in here after the
// poll backend reported the fd readable, so one syscall either makes
// progress or returns EAGAIN, which is surfaced as a timeout error so
// crypto/tls's handshake state machine treats it as "want read/write".
type fdConn struct {
	fd int
}

func (c fdConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, wouldBlockError{}
		}
		return 0, err
	}
	return n, nil
}

func (c fdConn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return n, wouldBlockError{}
		}
		return n, err
	}
	return n, nil
}

func (c fdConn) Close() error                       { return nil }
func (c fdConn) LocalAddr() net.Addr                { return nil }
func (c fdConn) RemoteAddr() net.Addr               { return nil }
func (c fdConn) SetDeadline(time.Time) error        { return nil }
func (c fdConn) SetReadDeadline(time.Time) error    { return nil }
func (c fdConn) SetWriteDeadline(time.Time) error   { return nil }

// wouldBlockError satisfies net.Error with Timeout()==true, which is how
// tlsSession.step/read recognize "no progress this time, try again on the
// next readiness event" without depending on a real deadline ever expiring.
type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "qev: operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }
