// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides PostgreSQL implementations of the auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/credpolicy/internal/auth"
)

// Default retry settings for Update when PostgreSQL aborts a transaction
// because of a serialization failure or deadlock.
const (
	DefaultUpdateRetries   = 3
	DefaultUpdateRetryBase = 10 * time.Millisecond
)

const selectAccount = `
	SELECT id, username, email, password_digest, password_changed_at,
	       password_history, failed_attempts, locked_until, created_at, updated_at
	FROM credential_accounts
	WHERE LOWER(username) = LOWER($1)`

// poolIface is the subset of pgxpool.Pool used by AccountRepository.
// pgxmock.PgxPoolIface satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool      poolIface
	retries   uint64
	retryBase time.Duration
}

// Option configures an AccountRepository.
type Option func(*AccountRepository)

// WithUpdateRetries sets how many times Update retries a transaction that
// PostgreSQL aborted, and the base of the exponential backoff between tries.
func WithUpdateRetries(retries uint64, base time.Duration) Option {
	return func(r *AccountRepository) {
		r.retries = retries
		if base > 0 {
			r.retryBase = base
		}
	}
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface, opts ...Option) *AccountRepository {
	r := &AccountRepository{
		pool:      pool,
		retries:   DefaultUpdateRetries,
		retryBase: DefaultUpdateRetryBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credential_accounts (
			id, username, email, password_digest, password_changed_at,
			password_history, failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.Digest,
		account.ChangedAt,
		historyParam(account.History),
		account.FailedAttempts,
		account.LockedUntil,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EXISTS").
				With("username", account.Username).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx, selectAccount, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by username").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// Update locks the account row with SELECT ... FOR UPDATE, calls fn and
// writes the credential columns back in the same transaction. Transactions
// aborted by PostgreSQL are retried with exponential backoff; fn may
// therefore run more than once and must not have side effects outside the
// account.
func (r *AccountRepository) Update(ctx context.Context, username string, fn auth.UpdateFunc) error {
	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(r.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.updateOnce(ctx, username, fn)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *AccountRepository) updateOnce(ctx context.Context, username string, fn auth.UpdateFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	account, err := scanAccount(tx.QueryRow(ctx, selectAccount+" FOR UPDATE", username))
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "lock account").
			With("username", username).
			Wrap(err)
	}

	if err := fn(account); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE credential_accounts SET
			email = $2,
			password_digest = $3,
			password_changed_at = $4,
			password_history = $5,
			failed_attempts = $6,
			locked_until = $7,
			updated_at = $8
		WHERE id = $1
	`,
		account.ID.String(),
		account.Email,
		account.Digest,
		account.ChangedAt,
		historyParam(account.History),
		account.FailedAttempts,
		account.LockedUntil,
		account.UpdatedAt,
	)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("username", username).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "commit").
			With("username", username).
			Wrap(err)
	}
	return nil
}

// isRetryable reports whether err is a transaction abort that succeeds on retry.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// historyParam stores an empty history as an empty array rather than NULL.
func historyParam(history []string) []string {
	if history == nil {
		return []string{}
	}
	return history
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr   string
		account auth.Account
	)

	err := row.Scan(
		&idStr,
		&account.Username,
		&account.Email,
		&account.Digest,
		&account.ChangedAt,
		&account.History,
		&account.FailedAttempts,
		&account.LockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("id", idStr).
			Wrap(err)
	}
	account.ID = id
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
