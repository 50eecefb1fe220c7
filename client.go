package qev

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Client is a connection record driven by a [Dispatcher]. An application
// that needs extra per-connection state embeds a Client by value inside its
// own struct and is handed back a *Client in every hook; the core never
// needs to know about the fields around it.
//
// Every field below is either touched only with atomic operations or
// guarded by Lock/Unlock; there is deliberately no field an application
// hook may read or write without going through an exported method, because
// the read-token protocol in clientRead (§4.7 of the design this
// implements) depends on nobody else mutating fd, flags or the read-op
// counter underneath it.
type Client struct {
	fd      atomic.Int32 // native socket handle; -1 once closed
	tls     *tlsSession  // non-nil only when FlagTLS is set
	readOps atomic.Uint32
	flags   flagSet
	Lock    clientLock // exported so application code can serialize its own writes alongside qev's

	disp *Dispatcher
}

func newClient(disp *Dispatcher, fd int, flags Flags) *Client {
	c := &Client{disp: disp}
	c.fd.Store(int32(fd))
	c.flags.set(flags)
	return c
}

// Fd returns the client's native socket handle, or -1 if the client has
// been closed. It is safe to call from any goroutine.
func (c *Client) Fd() int {
	return int(c.fd.Load())
}

// Flags returns the client's current flag bitset.
func (c *Client) Flags() Flags {
	return c.flags.load()
}

// IsClosing reports whether the client has entered the close protocol.
// Per invariant I1, once this is true the read hook will never again be
// invoked for this client.
func (c *Client) IsClosing() bool {
	return c.flags.has(FlagClosing)
}

// Read reads from the client's socket, delegating to the TLS record layer
// when the client is a TLS client. It is only meaningful when called from
// inside the application's read hook, which clientRead guarantees runs on
// at most one goroutine at a time for this client — so, unlike Write, Read
// takes no lock.
func (c *Client) Read(buf []byte) (int, error) {
	fd := c.fd.Load()
	if fd == -1 {
		return 0, nil
	}
	if c.flags.has(FlagTLS) {
		return c.tls.read(buf)
	}
	return unix.Read(int(fd), buf)
}

// Write sends buf to the client. It acquires the client's write lock for
// the duration of the call, so concurrent writers from arbitrary
// application goroutines serialize cleanly and never interleave within a
// single TLS record. A closed client is signaled by returning
// (0, error); callers that need the C-style "-1 means closed"
// contract can treat any non-nil error as that signal.
func (c *Client) Write(buf []byte) (int, error) {
	fd := c.fd.Load()
	if fd == -1 {
		return 0, errClosedClient
	}

	c.Lock.Lock()
	defer c.Lock.Unlock()

	// Re-check after acquiring the lock: the client may have closed while
	// we were waiting for it.
	if c.fd.Load() == -1 {
		return 0, errClosedClient
	}

	if c.flags.has(FlagTLS) {
		n, err := c.tls.write(buf)
		if err != nil {
			return 0, err
		}
		return n, nil
	}

	n, err := unix.Write(int(fd), buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close requests that the client be torn down. It is idempotent and safe
// to call from the read hook, from the killed hook, or from any worker
// goroutine (spec §4.7, testable property 3); only the first caller to
// observe the 0->1 transition of FlagClosing does any work.
func (c *Client) Close() {
	c.disp.closeClient(c)
}

// ErrClosed is returned by Write when the client has already been closed.
var ErrClosed = newError(KindTLSIO, "write", unix.EBADF)

var errClosedClient = ErrClosed
