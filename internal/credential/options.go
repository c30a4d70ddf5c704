// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// UnlockReason says which transition cleared a lock.
type UnlockReason string

// Unlock reasons reported to Observer.Unlocked.
const (
	UnlockReasonLogin   UnlockReason = "login"
	UnlockReasonAdmin   UnlockReason = "admin"
	UnlockReasonExpired UnlockReason = "expired"
)

// Observer receives policy transitions, e.g. for metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// FailedAttempt is called after a failure was counted.
	FailedAttempt(attempts int)

	// Locked is called when a failure engages (or re-arms) the lock.
	Locked(until time.Time)

	// Unlocked is called when a set lock is cleared.
	Unlocked(reason UnlockReason)

	// ReuseDetected is called when a candidate secret matches history.
	ReuseDetected()
}

type nopObserver struct{}

func (nopObserver) FailedAttempt(int)     {}
func (nopObserver) Locked(time.Time)      {}
func (nopObserver) Unlocked(UnlockReason) {}
func (nopObserver) ReuseDetected()        {}

type options struct {
	config   Config
	clock    Clock
	observer Observer
	logger   *slog.Logger
}

// Option configures a policy during construction.
type Option func(*options)

// WithConfig sets the initial configuration. Defaults to DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithObserver registers an observer for policy transitions.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		config:   DefaultConfig(),
		clock:    SystemClock{},
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return options{}, err
	}
	return o, nil
}

// configHolder keeps the current Config snapshot. Reads are lock-free;
// Configure serialises merge-and-swap so concurrent partial updates never
// interleave field by field.
type configHolder struct {
	mu      sync.Mutex
	current atomic.Pointer[Config]
}

func newConfigHolder(cfg Config) *configHolder {
	h := &configHolder{}
	h.current.Store(&cfg)
	return h
}

func (h *configHolder) load() Config {
	return *h.current.Load()
}

func (h *configHolder) configure(o Override) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := h.current.Load().Merge(o)
	if err := merged.Validate(); err != nil {
		return err
	}
	h.current.Store(&merged)
	return nil
}
