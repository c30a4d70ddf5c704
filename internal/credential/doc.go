// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credential implements password-age/reuse and failed-login lockout
// policies over a caller-owned credential Record.
//
// # Records
//
// A Record carries the credential fields the policies read and write. Callers
// embed it in their own user type and remain responsible for persisting it
// after any policy call that mutates it.
//
// # Policies
//
//   - PasswordPolicy - expiry (calendar days) and reuse detection against the
//     most recent HistoryLimit digests
//   - LockoutPolicy - failed-attempt counter with timed lock, lazy auto-unlock
//     and administrative override
//
// Both are built from a Config and share the Option set. Configure merges a
// partial Override over the current Config; the merged value is validated
// and swapped in atomically.
//
// # Concurrency
//
// Policies hold no per-record state and are safe for concurrent use. Records
// are not: callers must serialise policy evaluation per user identity (a
// per-user mutex, a row lock, a serialised queue). Without it the
// increment-then-check in RegisterFailedAttempt loses updates.
package credential
