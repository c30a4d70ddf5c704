// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"log/slog"
	"time"
)

// LockState is the lockout state of a record.
type LockState int

// Lock states.
const (
	LockStateUnlocked LockState = iota
	LockStateLocked
)

func (s LockState) String() string {
	switch s {
	case LockStateUnlocked:
		return "unlocked"
	case LockStateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// LockoutPolicy counts failed logins and locks a record for a fixed duration
// once MaxFailedAttempts is reached.
//
// The mutating methods change rec in place and return it. Callers must hold
// a per-identity lock around read, policy call and persist.
type LockoutPolicy struct {
	cfg      *configHolder
	clock    Clock
	observer Observer
	logger   *slog.Logger
}

// NewLockoutPolicy creates a LockoutPolicy.
func NewLockoutPolicy(opts ...Option) (*LockoutPolicy, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LockoutPolicy{
		cfg:      newConfigHolder(o.config),
		clock:    o.clock,
		observer: o.observer,
		logger:   o.logger,
	}, nil
}

// Config returns the current configuration snapshot.
func (l *LockoutPolicy) Config() Config {
	return l.cfg.load()
}

// Configure merges o over the current configuration. An invalid result is
// rejected and the previous configuration kept.
func (l *LockoutPolicy) Configure(o Override) error {
	return l.cfg.configure(o)
}

// RegisterFailedAttempt increments the failure counter and, once it reaches
// MaxFailedAttempts, locks rec until now plus the lockout duration. Every
// further failure re-arms the lock.
func (l *LockoutPolicy) RegisterFailedAttempt(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	cfg := l.cfg.load()

	rec.FailedAttempts++
	l.observer.FailedAttempt(rec.FailedAttempts)

	if rec.FailedAttempts >= cfg.MaxFailedAttempts {
		until := l.clock.Now().Add(cfg.LockoutDuration())
		rec.LockedUntil = &until
		l.observer.Locked(until)
		l.logger.Info("credential locked",
			"failed_attempts", rec.FailedAttempts,
			"locked_until", until,
		)
	}
	return rec
}

// RegisterSuccessfulLogin clears the failure counter and any lock. It is the
// only path that clears a lock after correct-credential authentication.
func (l *LockoutPolicy) RegisterSuccessfulLogin(rec *Record) *Record {
	return l.unlock(rec, UnlockReasonLogin)
}

// AdminUnlock clears the failure counter and any lock regardless of the
// remaining lock duration.
func (l *LockoutPolicy) AdminUnlock(rec *Record) *Record {
	return l.unlock(rec, UnlockReasonAdmin)
}

func (l *LockoutPolicy) unlock(rec *Record, reason UnlockReason) *Record {
	if rec == nil {
		return nil
	}
	if rec.reset() {
		l.observer.Unlocked(reason)
		l.logger.Info("credential unlocked", "reason", string(reason))
	}
	return rec
}

// CheckAndMaybeUnlock reports whether rec is locked. A lock whose expiry is
// strictly in the past is cleared as a side effect (counter reset to zero,
// LockedUntil nil) and reported as unlocked; the caller must persist rec in
// that case. An unexpired lock is reported without mutation.
func (l *LockoutPolicy) CheckAndMaybeUnlock(rec *Record) (bool, *Record) {
	if rec == nil || rec.LockedUntil == nil {
		return false, rec
	}
	if l.clock.Now().After(*rec.LockedUntil) {
		l.unlock(rec, UnlockReasonExpired)
		return false, rec
	}
	return true, rec
}

// IsAccountLocked is CheckAndMaybeUnlock without the record result. Despite
// the name it mutates rec when an expired lock is found.
func (l *LockoutPolicy) IsAccountLocked(rec *Record) bool {
	locked, _ := l.CheckAndMaybeUnlock(rec)
	return locked
}

// State reports the lock state of rec without mutating it. An elapsed lock
// reports LockStateUnlocked.
func (l *LockoutPolicy) State(rec *Record) LockState {
	if rec == nil || rec.LockedUntil == nil || l.clock.Now().After(*rec.LockedUntil) {
		return LockStateUnlocked
	}
	return LockStateLocked
}

// RemainingLockout returns the time until rec's lock expires, or zero when
// rec is not locked.
func (l *LockoutPolicy) RemainingLockout(rec *Record) time.Duration {
	if l.State(rec) != LockStateLocked {
		return 0
	}
	return rec.LockedUntil.Sub(l.clock.Now())
}
