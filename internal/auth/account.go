// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credpolicy/internal/credential"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a login identity with its credential state.
type Account struct {
	ID       ulid.ULID
	Username string
	Email    *string

	credential.Record

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount creates an Account with a validated username and digest.
// The digest counts as changed at now.
func NewAccount(username string, email *string, digest string, now time.Time) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if strings.TrimSpace(digest) == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD").Errorf("password digest cannot be empty")
	}

	changed := now
	return &Account{
		ID:       ulid.Make(),
		Username: username,
		Email:    email,
		Record: credential.Record{
			Digest:    digest,
			ChangedAt: &changed,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	if a.Email != nil {
		email := *a.Email
		c.Email = &email
	}
	if a.ChangedAt != nil {
		changed := *a.ChangedAt
		c.ChangedAt = &changed
	}
	if a.LockedUntil != nil {
		until := *a.LockedUntil
		c.LockedUntil = &until
	}
	if a.History != nil {
		c.History = append([]string(nil), a.History...)
	}
	return &c
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// UpdateFunc mutates an account loaded under its identity lock. Returning a
// non-nil error discards the mutation.
type UpdateFunc func(account *Account) error

// AccountRepository manages account persistence.
//
// Update is the only write path for existing accounts: it holds an exclusive
// lock on the account for the duration of fn, so policy read-modify-write
// sequences on the same account never interleave.
type AccountRepository interface {
	// Create stores a new account. Returns ErrAlreadyExists if the username is taken.
	Create(ctx context.Context, account *Account) error

	// GetByUsername retrieves an account by username (case-insensitive).
	// The result is a snapshot; mutate through Update.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// Update loads the account by username under an exclusive lock, calls fn
	// and persists the account if fn returns nil.
	Update(ctx context.Context, username string, fn UpdateFunc) error
}
