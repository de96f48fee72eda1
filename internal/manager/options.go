// ABOUTME: Functional options for the engine manager: timeouts, search paths, and clock
// ABOUTME: Defaults mirror a long-running host: 5 minute idle reaping, 10 second start timeout

package manager

import "time"

// Default timeouts.
const (
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultStartTimeout    = 10 * time.Second
	DefaultCallTimeout     = 60 * time.Second
	DefaultShutdownGrace   = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReapInterval    = 30 * time.Second
	DefaultWatchDebounce   = 250 * time.Millisecond
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	searchPaths     []string
	workspaceRoot   string
	idleTimeout     time.Duration
	startTimeout    time.Duration
	callTimeout     time.Duration
	shutdownGrace   time.Duration
	shutdownTimeout time.Duration
	reapInterval    time.Duration
	watchDebounce   time.Duration
	now             func() time.Time
}

func defaultOptions() options {
	return options{
		idleTimeout:     DefaultIdleTimeout,
		startTimeout:    DefaultStartTimeout,
		callTimeout:     DefaultCallTimeout,
		shutdownGrace:   DefaultShutdownGrace,
		shutdownTimeout: DefaultShutdownTimeout,
		reapInterval:    DefaultReapInterval,
		watchDebounce:   DefaultWatchDebounce,
		now:             time.Now,
	}
}

// WithSearchPaths sets the directories Refresh and Watch scan.
func WithSearchPaths(paths ...string) Option {
	return func(o *options) {
		o.searchPaths = append([]string(nil), paths...)
	}
}

// WithWorkspaceRoot sets the root announced to engines in initialize.
func WithWorkspaceRoot(root string) Option {
	return func(o *options) {
		o.workspaceRoot = root
	}
}

// WithIdleTimeout sets how long an engine may sit unused before reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithStartTimeout bounds the initialize handshake.
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithCallTimeout bounds a single request/response exchange.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithShutdownGrace sets how long a stopping engine gets to exit on its own.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithShutdownTimeout bounds ShutdownAll as a whole.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithReapInterval sets the RunReaper tick.
func WithReapInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reapInterval = d
		}
	}
}

// WithWatchDebounce sets how long Watch waits for filesystem events to settle.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.watchDebounce = d
		}
	}
}

// WithClock replaces time.Now for activity stamps and idle checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
