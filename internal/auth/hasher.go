// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// Upper bounds accepted when verifying a stored digest. Parameters beyond
// these would make Verify spend unbounded time or memory.
const (
	maxArgon2Time   = 4 * argon2Time
	maxArgon2Memory = 4 * argon2Memory
	maxArgon2KeyLen = 4 * argon2KeyLen
)

// argon2idPrefix identifies digests produced by Argon2idHasher.
const argon2idPrefix = "$argon2id$"

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a digest of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid digest.
	Verify(password, digest string) (bool, error)

	// NeedsUpgrade returns true if the digest should be re-hashed with the
	// current scheme.
	NeedsUpgrade(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id digest in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// argon2Params are the parameters decoded from a PHC digest.
type argon2Params struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

func parseArgon2id(digest string) (*argon2Params, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("AUTH_INVALID_HASH").
			With("version", version).
			Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if iterations == 0 || iterations > maxArgon2Time {
		return nil, oops.Code("AUTH_INVALID_HASH").
			With("iterations", iterations).
			Errorf("iterations value %d out of range", iterations)
	}
	// argon2 needs at least 8 KiB per lane.
	if memory < 8*threads || memory > maxArgon2Memory {
		return nil, oops.Code("AUTH_INVALID_HASH").
			With("memory", memory).
			Errorf("memory value %d out of range", memory)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > maxArgon2KeyLen {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	return &argon2Params{
		memory:  memory,
		time:    iterations,
		threads: uint8(threads),
		salt:    salt,
		key:     key,
	}, nil
}

// Verify checks if the password matches the argon2id digest.
func (h *Argon2idHasher) Verify(password, digest string) (bool, error) {
	p, err := parseArgon2id(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade returns true if the digest is not argon2id or was produced
// with weaker parameters than the current ones.
func (h *Argon2idHasher) NeedsUpgrade(digest string) bool {
	if !strings.HasPrefix(digest, argon2idPrefix) {
		return true
	}
	p, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return p.memory < argon2Memory || p.time < argon2Time || len(p.key) < argon2KeyLen
}
