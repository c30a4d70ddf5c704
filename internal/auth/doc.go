// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth applies the credential policies to stored accounts.
//
// # Domain Types
//
// Accounts should be created with NewAccount, which validates the username
// and digest. Account embeds credential.Record, so the policies in package
// credential operate on it directly.
//
// # Digests
//
// PasswordHasher implementations:
//   - Argon2idHasher - argon2id PHC strings, the default scheme
//   - BcryptHasher - bcrypt, for imported digests
//   - MultiHasher - hashes with one scheme, verifies any known scheme
//
// DigestComparator adapts a PasswordHasher to credential.Comparator.
//
// # Services
//
// Service coordinates registration, login, password change, admin unlock
// and status. It only mutates accounts through AccountRepository.Update,
// which holds a per-account lock; this is how the per-identity
// serialisation the lockout policy requires is provided.
package auth
