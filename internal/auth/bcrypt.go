// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// bcryptPrefixes identify bcrypt digests.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

func isBcrypt(digest string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(digest, prefix) {
			return true
		}
	}
	return false
}

// BcryptHasher implements PasswordHasher using bcrypt. It exists for
// digests imported from systems that stored bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's accepted
// range falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash produces a bcrypt digest.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("scheme", "bcrypt").Wrap(err)
	}
	return string(digest), nil
}

// Verify checks if the password matches the bcrypt digest.
func (h *BcryptHasher) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").With("scheme", "bcrypt").Wrap(err)
	}
}

// NeedsUpgrade returns true for non-bcrypt digests and for digests with a
// lower cost than the hasher's.
func (h *BcryptHasher) NeedsUpgrade(digest string) bool {
	if !isBcrypt(digest) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}
