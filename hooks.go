package qev

import "time"

// Hooks are the application callbacks a Dispatcher drives. OnRead is the
// only one with return-value semantics that matter to the core: returning
// false from it is equivalent to calling Close on the client.
type Hooks struct {
	// OnNew runs once, right after a client is accepted (and, for TLS
	// listeners, after the handshake completes), before the first OnRead.
	OnNew func(*Client)

	// OnRead runs whenever clientRead's token protocol grants this
	// goroutine exclusive access to the client's read hook. Returning false
	// closes the client.
	OnRead func(*Client) bool

	// OnClose runs once a client has fully left the quiescence queue and is
	// about to be freed. Application state attached to the client must not
	// be touched from any other goroutine after this returns.
	OnClose func(*Client)

	// OnKilled is optional. It runs once, synchronously, on the 0->1
	// transition of FlagClosing — i.e. on whichever goroutine first called
	// Close — before the socket is actually closed. It exists for callers
	// that need to unwind application state referencing the client before
	// the fd becomes invalid (it may be a different goroutine than the one
	// running OnRead).
	OnKilled func(*Client)

	// OnTick is optional. It runs on every dispatcher worker once per
	// dispatch-loop iteration, after the quiescence tick.
	OnTick func()
}

// Config holds listener- and dispatcher-wide tuning knobs, configured via
// functional options following this package's usual construction pattern.
type Config struct {
	// Backlog is the listen(2) backlog. Defaults to 1000.
	Backlog int

	// MaxEventsPerWait bounds how many readiness events a single
	// EpollWait call can return per worker. Defaults to 100.
	MaxEventsPerWait int

	// PollTimeout bounds how long EpollWait blocks when nothing is ready,
	// which in turn bounds how promptly OnTick and the clock refresh run
	// under an idle workload. Defaults to 100ms.
	PollTimeout time.Duration

	// MaxAcceptsPerWake caps how many connections a single accept-ready
	// wakeup will drain before yielding back to the poll loop, so one
	// listener under a connection storm cannot starve every other fd a
	// worker is responsible for. Defaults to 64.
	MaxAcceptsPerWake int

	// MaxDatagramSize is stored in the Config but has no effect: nothing in
	// this package reads from UDP sockets. Defaults to 8192.
	MaxDatagramSize int

	// Workers is the number of goroutines sharing the poll backend.
	// Defaults to runtime.GOMAXPROCS(0).
	Workers int

	Logger Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Backlog:           1000,
		MaxEventsPerWait:  100,
		PollTimeout:       100 * time.Millisecond,
		MaxAcceptsPerWake: 64,
		MaxDatagramSize:   8192,
		Logger:            discardLogger,
	}
}

// WithBacklog overrides the listen(2) backlog.
func WithBacklog(n int) Option {
	return func(c *Config) { c.Backlog = n }
}

// WithWorkers overrides the number of dispatcher worker goroutines.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithPollTimeout overrides how long an idle worker blocks in EpollWait.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) { c.PollTimeout = d }
}

// WithMaxAcceptsPerWake overrides the accept-loop drain cap.
func WithMaxAcceptsPerWake(n int) Option {
	return func(c *Config) { c.MaxAcceptsPerWake = n }
}

// WithLogger sets the structured logger used for internal diagnostics.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}
