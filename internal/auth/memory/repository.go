// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.AccountRepository.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/credpolicy/internal/auth"
)

// entry guards one account. mu is held for the whole of an Update so that
// updates to the same account run one at a time.
type entry struct {
	mu      sync.Mutex
	account *auth.Account
}

// AccountRepository keeps accounts in memory. Accounts are stored and
// returned as copies, so callers never share state with the repository.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*entry
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[string]*entry)}
}

func key(username string) string {
	return strings.ToLower(username)
}

func (r *AccountRepository) lookup(username string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.accounts[key(username)]
	return e, ok
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(account.Username)
	if _, exists := r.accounts[k]; exists {
		return oops.Code("ACCOUNT_EXISTS").
			With("username", account.Username).
			Wrap(auth.ErrAlreadyExists)
	}
	r.accounts[k] = &entry{account: account.Clone()}
	return nil
}

// GetByUsername returns a copy of the account.
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	e, ok := r.lookup(username)
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Clone(), nil
}

// Update runs fn on a copy of the account while holding the account's lock
// and stores the copy if fn succeeds.
func (r *AccountRepository) Update(ctx context.Context, username string, fn auth.UpdateFunc) error {
	e, ok := r.lookup(username)
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("username", username).
			Wrap(err)
	}

	working := e.account.Clone()
	if err := fn(working); err != nil {
		return err
	}
	e.account = working
	return nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
