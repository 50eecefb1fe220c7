// Package qev is an edge-triggered, multi-threaded TCP and TLS connection
// dispatcher. It is the networking substrate for a WebSocket/event server:
// it owns the poll set, accepts and tears down connections, and serializes
// per-client read callbacks across a pool of worker goroutines, but it
// knows nothing about the wire protocol spoken over those connections.
//
// The package exposes four pieces that compose into the dispatcher:
//
//   - [Dispatcher], which drives N worker goroutines against one shared
//     epoll set and invokes the application's [Hooks] under the read-token
//     protocol described on [Client].
//   - a tick-synchronized quiescence queue ([quiescenceQueue]) that defers
//     freeing a closed client's record until every worker has proven, by
//     ticking twice, that it can no longer be holding a reference to it.
//   - [Client.Lock], a reentrant-by-name-only spinlock guarding concurrent
//     writes to one client.
//   - [RWSpinLock], a reader-preferring spin lock for the application's own
//     short critical sections; the dispatcher never takes it internally.
//
// The core is Linux-only: it is built directly on epoll and timerfd.
// Swapping the poll backend for another OS means implementing pollBackend
// against that OS's readiness multiplexer; nothing above the backend
// depends on epoll specifics.
package qev
