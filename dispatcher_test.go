//go:build linux

package qev

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort asks the kernel for an ephemeral port so parallel test runs
// never collide on a fixed address.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// S1: plain echo — connect, send 4 bytes, expect them back verbatim, then
// exactly one OnClose after the connection is torn down.
func TestDispatcher_PlainEcho(t *testing.T) {
	addr := freePort(t)

	var closes atomic.Int32
	d, err := New(Hooks{
		OnRead: func(c *Client) bool {
			buf := make([]byte, 64)
			n, err := c.Read(buf)
			if err != nil || n == 0 {
				return true
			}
			_, _ = c.Write(buf[:n])
			return true
		},
		OnClose: func(*Client) { closes.Add(1) },
	}, WithWorkers(2))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Listen(addr))
	go d.Run()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("test"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "test", string(buf))

	require.NoError(t, conn.Close())
	// OnClose only fires after two full quiescence rotations, and an idle
	// worker ticks once per 100ms poll timeout, so allow several of those.
	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, int32(1), closes.Load())
}

// S2: reconnect storm — many sequential connect/close cycles; on_new count
// must equal on_close count and nothing leaks.
func TestDispatcher_ReconnectStorm(t *testing.T) {
	addr := freePort(t)

	var news, closes atomic.Int32
	d, err := New(Hooks{
		OnNew:   func(*Client) { news.Add(1) },
		OnRead:  func(*Client) bool { return true },
		OnClose: func(*Client) { closes.Add(1) },
	}, WithWorkers(4))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Listen(addr))
	go d.Run()
	time.Sleep(20 * time.Millisecond)

	const n = 200 // kept well below a full storm run to keep this test fast
	for i := 0; i < n; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool {
		return news.Load() >= int32(n) && closes.Load() == news.Load()
	}, 2*time.Second, 10*time.Millisecond)
}

// S4: concurrent writes — every Write either completes fully or reports an
// error on close; nothing interleaves within a single write call since
// Client.Write serializes through the per-client lock.
func TestDispatcher_ConcurrentWrites(t *testing.T) {
	addr := freePort(t)

	accepted := make(chan *Client, 1)
	d, err := New(Hooks{
		OnNew:   func(c *Client) { accepted <- c },
		OnRead:  func(*Client) bool { return true },
		OnClose: func(*Client) {},
	}, WithWorkers(2))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Listen(addr))
	go d.Run()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	var client *Client
	select {
	case client = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("client never accepted")
	}

	// Drain the peer side concurrently so writes can actually complete.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	const writers = 8
	const perWriter = 200
	payload := make([]byte, 16)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				n, err := client.Write(payload)
				if err != nil {
					failures.Add(1)
					continue
				}
				if n != len(payload) {
					t.Errorf("partial write: %d of %d", n, len(payload))
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load(), "no write should fail while the client stays open")
}
