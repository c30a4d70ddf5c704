// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/credpolicy/internal/credential"
)

// Scheme names accepted by NewHasher.
const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"
)

// NewHasher returns the PasswordHasher for a scheme name.
func NewHasher(scheme string) (PasswordHasher, error) {
	switch strings.ToLower(scheme) {
	case "", SchemeArgon2id:
		return NewArgon2idHasher(), nil
	case SchemeBcrypt:
		return NewBcryptHasher(0), nil
	default:
		return nil, oops.Code("AUTH_UNKNOWN_SCHEME").
			With("scheme", scheme).
			Errorf("unknown hash scheme %q", scheme)
	}
}

// MultiHasher hashes with a primary scheme and verifies digests of any
// known scheme, so stored bcrypt digests keep working until they are
// upgraded on the next successful login.
type MultiHasher struct {
	primary PasswordHasher
	argon2  *Argon2idHasher
	bcrypt  *BcryptHasher
}

// NewMultiHasher creates a MultiHasher that hashes with primary.
func NewMultiHasher(primary PasswordHasher) *MultiHasher {
	if primary == nil {
		primary = NewArgon2idHasher()
	}
	return &MultiHasher{
		primary: primary,
		argon2:  NewArgon2idHasher(),
		bcrypt:  NewBcryptHasher(0),
	}
}

// Hash produces a digest with the primary scheme.
func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

// Verify dispatches on the digest prefix.
func (h *MultiHasher) Verify(password, digest string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, argon2idPrefix):
		return h.argon2.Verify(password, digest)
	case isBcrypt(digest):
		return h.bcrypt.Verify(password, digest)
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unrecognised digest scheme")
	}
}

// NeedsUpgrade defers to the primary hasher.
func (h *MultiHasher) NeedsUpgrade(digest string) bool {
	return h.primary.NeedsUpgrade(digest)
}

// DigestComparator adapts a PasswordHasher to credential.Comparator.
type DigestComparator struct {
	hasher PasswordHasher
}

// NewDigestComparator creates a DigestComparator.
func NewDigestComparator(hasher PasswordHasher) *DigestComparator {
	return &DigestComparator{hasher: hasher}
}

// Compare verifies plaintext against digest. The hash itself cannot be
// interrupted, so ctx is only checked before starting.
func (c *DigestComparator) Compare(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("AUTH_COMPARE_CANCELLED").Wrap(err)
	}
	return c.hasher.Verify(plaintext, digest)
}

var _ credential.Comparator = (*DigestComparator)(nil)
