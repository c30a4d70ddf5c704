// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/credpolicy/internal/credential"
)

var tracer = otel.Tracer("credpolicy/auth")

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Account *Account

	// PasswordExpired means the caller should force a password change.
	PasswordExpired bool
}

// AccountStatus is a read-only view of an account's credential state.
type AccountStatus struct {
	Username         string
	State            credential.LockState
	FailedAttempts   int
	LockedUntil      *time.Time
	RemainingLockout time.Duration
	PasswordExpired  bool
	PasswordExpires  *time.Time
}

// Service applies the credential policies to stored accounts. Every
// mutation runs inside AccountRepository.Update, which serialises access
// per account.
type Service struct {
	accounts  AccountRepository
	hasher    PasswordHasher
	passwords *credential.PasswordPolicy
	lockout   *credential.LockoutPolicy
	clock     credential.Clock
	logger    *slog.Logger
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithClock sets the time source used for account timestamps.
func WithClock(clock credential.Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a new Service.
func NewService(
	accounts AccountRepository,
	hasher PasswordHasher,
	passwords *credential.PasswordPolicy,
	lockout *credential.LockoutPolicy,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case accounts == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("accounts repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password hasher is required")
	case passwords == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password policy is required")
	case lockout == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("lockout policy is required")
	}

	s := &Service{
		accounts:  accounts,
		hasher:    hasher,
		passwords: passwords,
		lockout:   lockout,
		clock:     credential.SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func startSpan(ctx context.Context, name, username string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("account.username", username)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func errInvalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
}

// Register creates an account with a freshly hashed password.
func (s *Service) Register(ctx context.Context, username string, email *string, password string) (_ *Account, err error) {
	ctx, span := startSpan(ctx, "auth.register", username)
	defer func() { endSpan(span, err) }()

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	account, err := NewAccount(username, email, digest, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			With("username", username).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "account registered", "username", username, "account_id", account.ID.String())
	return account, nil
}

// Login verifies password for username and applies the lockout policy.
//
// An elapsed lock is cleared before anything else. The password is always
// verified so that locked and unknown accounts take the same time as wrong
// passwords. A wrong password counts as a failed attempt even while locked.
// A correct password on a locked account fails with AUTH_ACCOUNT_LOCKED and
// leaves the counter untouched.
func (s *Service) Login(ctx context.Context, username, password string) (_ *LoginResult, err error) {
	ctx, span := startSpan(ctx, "auth.login", username)
	defer func() { endSpan(span, err) }()

	var (
		result  *LoginResult
		outcome error
	)
	updateErr := s.accounts.Update(ctx, username, func(account *Account) error {
		// Clears an elapsed lock before the attempt is counted.
		locked, _ := s.lockout.CheckAndMaybeUnlock(&account.Record)

		valid, verifyErr := s.hasher.Verify(password, account.Digest)
		if verifyErr != nil {
			return oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "verify password").
				Wrap(verifyErr)
		}

		now := s.clock.Now()
		if !valid {
			s.lockout.RegisterFailedAttempt(&account.Record)
			account.UpdatedAt = now
			if account.LockedUntil != nil {
				s.logger.WarnContext(ctx, "account locked after failed login",
					"username", account.Username,
					"failed_attempts", account.FailedAttempts,
					"locked_until", *account.LockedUntil,
				)
			}
			outcome = errInvalidCredentials()
			return nil
		}

		if locked {
			outcome = oops.Code("AUTH_ACCOUNT_LOCKED").
				With("locked_until", *account.LockedUntil).
				Errorf("account is temporarily locked")
			return nil
		}

		s.lockout.RegisterSuccessfulLogin(&account.Record)
		if s.hasher.NeedsUpgrade(account.Digest) {
			upgraded, hashErr := s.hasher.Hash(password)
			if hashErr != nil {
				s.logger.WarnContext(ctx, "password digest upgrade failed",
					"username", account.Username,
					"error", hashErr,
				)
			} else {
				account.Digest = upgraded
			}
		}
		account.UpdatedAt = now

		result = &LoginResult{
			Account:         account.Clone(),
			PasswordExpired: s.passwords.IsExpired(&account.Record),
		}
		return nil
	})

	if updateErr != nil {
		if errors.Is(updateErr, ErrNotFound) {
			// Keep unknown users as slow as known ones.
			_, _ = s.hasher.Verify(password, dummyPasswordHash) //nolint:errcheck // timing only
			return nil, errInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "update account").
			Wrap(updateErr)
	}
	if outcome != nil {
		return nil, outcome
	}
	return result, nil
}

// ChangePassword replaces the password of username after verifying current.
// next must differ from the current secret and from the recent history.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) (err error) {
	ctx, span := startSpan(ctx, "auth.change_password", username)
	defer func() { endSpan(span, err) }()

	err = s.accounts.Update(ctx, username, func(account *Account) error {
		valid, verifyErr := s.hasher.Verify(current, account.Digest)
		if verifyErr != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "verify current password").
				Wrap(verifyErr)
		}
		if !valid {
			return errInvalidCredentials()
		}

		same, verifyErr := s.hasher.Verify(next, account.Digest)
		if verifyErr != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "compare with current password").
				Wrap(verifyErr)
		}
		reused, reuseErr := s.passwords.IsReused(ctx, next, account.History)
		if reuseErr != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "check password history").
				Wrap(reuseErr)
		}
		if same || reused {
			return oops.Code("AUTH_PASSWORD_REUSED").
				With("history_limit", s.passwords.Config().HistoryLimit).
				Errorf("password was used recently")
		}

		digest, hashErr := s.hasher.Hash(next)
		if hashErr != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "hash password").
				Wrap(hashErr)
		}

		now := s.clock.Now()
		s.passwords.RotateHistory(&account.Record, digest, now)
		account.UpdatedAt = now
		return nil
	})
	if err != nil {
		return s.wrapAccountErr(err, username, "change password")
	}
	s.logger.InfoContext(ctx, "password changed", "username", username)
	return nil
}

// AdminUnlock clears any lock on username regardless of its remaining
// duration.
func (s *Service) AdminUnlock(ctx context.Context, username string) (err error) {
	ctx, span := startSpan(ctx, "auth.admin_unlock", username)
	defer func() { endSpan(span, err) }()

	err = s.accounts.Update(ctx, username, func(account *Account) error {
		s.lockout.AdminUnlock(&account.Record)
		account.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return s.wrapAccountErr(err, username, "admin unlock")
	}
	s.logger.InfoContext(ctx, "account unlocked by administrator", "username", username)
	return nil
}

// Status reports the credential state of username without modifying it.
func (s *Service) Status(ctx context.Context, username string) (_ *AccountStatus, err error) {
	ctx, span := startSpan(ctx, "auth.status", username)
	defer func() { endSpan(span, err) }()

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, s.wrapAccountErr(err, username, "get account")
	}

	status := &AccountStatus{
		Username:         account.Username,
		State:            s.lockout.State(&account.Record),
		FailedAttempts:   account.FailedAttempts,
		LockedUntil:      account.LockedUntil,
		RemainingLockout: s.lockout.RemainingLockout(&account.Record),
		PasswordExpired:  s.passwords.IsExpired(&account.Record),
	}
	if expiry, ok := s.passwords.ExpiresAt(&account.Record); ok {
		status.PasswordExpires = &expiry
	}
	return status, nil
}

func (s *Service) wrapAccountErr(err error, username, operation string) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(err)
	}
	if _, ok := oops.AsOops(err); ok {
		return err
	}
	return oops.Code("AUTH_ACCOUNT_UPDATE_FAILED").
		With("operation", operation).
		With("username", username).
		Wrap(err)
}
