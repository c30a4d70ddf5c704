// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import "time"

// Record is the credential state the policies operate on.
//
// Record is owned by the caller, typically embedded in a larger user type.
// The zero value is a fresh, unlocked record whose secret never expires.
type Record struct {
	// Digest is the one-way hash of the current secret.
	Digest string `json:"digest" yaml:"digest"`

	// ChangedAt is when the secret last changed. Nil disables expiry.
	ChangedAt *time.Time `json:"changed_at,omitempty" yaml:"changed_at,omitempty"`

	// History holds prior digests, oldest first.
	History []string `json:"history,omitempty" yaml:"history,omitempty"`

	// FailedAttempts counts consecutive failed logins.
	FailedAttempts int `json:"failed_attempts,omitempty" yaml:"failed_attempts,omitempty"`

	// LockedUntil is the lock expiry instant. Nil means not locked.
	LockedUntil *time.Time `json:"locked_until,omitempty" yaml:"locked_until,omitempty"`
}

func (r *Record) reset() (wasLocked bool) {
	wasLocked = r.LockedUntil != nil
	r.FailedAttempts = 0
	r.LockedUntil = nil
	return wasLocked
}
