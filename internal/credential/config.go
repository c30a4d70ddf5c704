// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"time"

	"github.com/samber/oops"
)

// Default policy tunables.
const (
	DefaultExpiryDays             = 90
	DefaultHistoryLimit           = 3
	DefaultMaxFailedAttempts      = 3
	DefaultLockoutDurationMinutes = 30
)

// Config holds the tunables shared by PasswordPolicy and LockoutPolicy.
// Config values are immutable once handed to a policy; use Merge to derive
// a new one.
type Config struct {
	// ExpiryDays is the secret age, in calendar days, after which it expires.
	ExpiryDays int `json:"expiry_days" yaml:"expiry_days"`

	// HistoryLimit is how many trailing history digests are checked for reuse.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`

	// MaxFailedAttempts is the failure count at which the lock engages.
	MaxFailedAttempts int `json:"max_failed_attempts" yaml:"max_failed_attempts"`

	// LockoutDurationMinutes is how long a lock lasts once triggered.
	LockoutDurationMinutes int `json:"lockout_duration_minutes" yaml:"lockout_duration_minutes"`
}

// Override is a partial Config. Nil fields are left at their prior value
// by Merge.
type Override struct {
	ExpiryDays             *int `json:"expiry_days,omitempty" koanf:"expiry_days" jsonschema:"minimum=1"`
	HistoryLimit           *int `json:"history_limit,omitempty" koanf:"history_limit" jsonschema:"minimum=1"`
	MaxFailedAttempts      *int `json:"max_failed_attempts,omitempty" koanf:"max_failed_attempts" jsonschema:"minimum=1"`
	LockoutDurationMinutes *int `json:"lockout_duration_minutes,omitempty" koanf:"lockout_duration_minutes" jsonschema:"minimum=1"`
}

// IsEmpty reports whether no field is supplied.
func (o Override) IsEmpty() bool {
	return o.ExpiryDays == nil && o.HistoryLimit == nil &&
		o.MaxFailedAttempts == nil && o.LockoutDurationMinutes == nil
}

// DefaultConfig returns the default tunables (90 days, 3 digests, 3 attempts, 30 minutes).
func DefaultConfig() Config {
	return Config{
		ExpiryDays:             DefaultExpiryDays,
		HistoryLimit:           DefaultHistoryLimit,
		MaxFailedAttempts:      DefaultMaxFailedAttempts,
		LockoutDurationMinutes: DefaultLockoutDurationMinutes,
	}
}

// Merge returns a copy of c with every supplied field of o applied.
func (c Config) Merge(o Override) Config {
	merged := c
	if o.ExpiryDays != nil {
		merged.ExpiryDays = *o.ExpiryDays
	}
	if o.HistoryLimit != nil {
		merged.HistoryLimit = *o.HistoryLimit
	}
	if o.MaxFailedAttempts != nil {
		merged.MaxFailedAttempts = *o.MaxFailedAttempts
	}
	if o.LockoutDurationMinutes != nil {
		merged.LockoutDurationMinutes = *o.LockoutDurationMinutes
	}
	return merged
}

// Validate checks that every tunable is positive.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"expiry_days", c.ExpiryDays},
		{"history_limit", c.HistoryLimit},
		{"max_failed_attempts", c.MaxFailedAttempts},
		{"lockout_duration_minutes", c.LockoutDurationMinutes},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return oops.Code("POLICY_INVALID_CONFIG").
				With("field", f.name).
				With("value", f.value).
				Errorf("%s must be positive, got %d", f.name, f.value)
		}
	}
	return nil
}

// LockoutDuration returns LockoutDurationMinutes as a time.Duration.
func (c Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationMinutes) * time.Minute
}

// Int returns a pointer to v, for building an Override inline.
func Int(v int) *int {
	return &v
}
