// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/credpolicy/internal/auth"
	"github.com/holomush/credpolicy/internal/auth/memory"
	"github.com/holomush/credpolicy/internal/auth/mocks"
	"github.com/holomush/credpolicy/internal/credential"
	"github.com/holomush/credpolicy/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc      *auth.Service
	accounts *memory.AccountRepository
	clock    *fakeClock
}

func newServiceWith(t *testing.T, accounts auth.AccountRepository, hasher auth.PasswordHasher, clock *fakeClock, opts ...auth.ServiceOption) *auth.Service {
	t.Helper()

	passwords, err := credential.NewPasswordPolicy(auth.NewDigestComparator(hasher), credential.WithClock(clock))
	require.NoError(t, err)
	lockout, err := credential.NewLockoutPolicy(credential.WithClock(clock))
	require.NoError(t, err)

	svc, err := auth.NewService(accounts, hasher, passwords, lockout, append([]auth.ServiceOption{auth.WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return svc
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		accounts: memory.NewAccountRepository(),
		clock:    &fakeClock{now: accountNow},
	}
	f.svc = newServiceWith(t, f.accounts, auth.NewBcryptHasher(bcrypt.MinCost), f.clock)
	return f
}

func (f *serviceFixture) register(t *testing.T, username, password string) *auth.Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), username, nil, password)
	require.NoError(t, err)
	return account
}

func (f *serviceFixture) account(t *testing.T, username string) *auth.Account {
	t.Helper()
	account, err := f.accounts.GetByUsername(context.Background(), username)
	require.NoError(t, err)
	return account
}

func TestNewService(t *testing.T) {
	passwords, err := credential.NewPasswordPolicy(auth.NewDigestComparator(auth.NewArgon2idHasher()))
	require.NoError(t, err)
	lockout, err := credential.NewLockoutPolicy()
	require.NoError(t, err)
	accounts := memory.NewAccountRepository()
	hasher := auth.NewArgon2idHasher()

	tests := []struct {
		name string
		fn   func() (*auth.Service, error)
		msg  string
	}{
		{"nil accounts", func() (*auth.Service, error) { return auth.NewService(nil, hasher, passwords, lockout) }, "accounts repository"},
		{"nil hasher", func() (*auth.Service, error) { return auth.NewService(accounts, nil, passwords, lockout) }, "password hasher"},
		{"nil password policy", func() (*auth.Service, error) { return auth.NewService(accounts, hasher, nil, lockout) }, "password policy"},
		{"nil lockout policy", func() (*auth.Service, error) { return auth.NewService(accounts, hasher, passwords, nil) }, "lockout policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := tt.fn()
			require.Error(t, err)
			assert.Nil(t, svc)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_SERVICE")
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("valid dependencies", func(t *testing.T) {
		svc, err := auth.NewService(accounts, hasher, passwords, lockout, auth.WithClock(nil), auth.WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("stores hashed password", func(t *testing.T) {
		f := newServiceFixture(t)
		account := f.register(t, "admin", "admin")

		stored := f.account(t, "ADMIN")
		assert.Equal(t, account.ID, stored.ID)
		assert.NotEqual(t, "admin", stored.Digest)
		require.NotNil(t, stored.ChangedAt)
		assert.Equal(t, accountNow, *stored.ChangedAt)
	})

	t.Run("duplicate username fails", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")

		_, err := f.svc.Register(ctx, "Admin", nil, "other")
		require.Error(t, err)
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
	})

	t.Run("empty password fails", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, "admin", nil, "")
		require.ErrorIs(t, err, auth.ErrEmptyPassword)
	})

	t.Run("invalid username fails", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, "1x", nil, "secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_USERNAME")
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("correct password succeeds", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "user")

		result, err := f.svc.Login(ctx, "user", "user")
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "user", result.Account.Username)
		assert.False(t, result.PasswordExpired)
	})

	t.Run("unknown user fails with invalid credentials", func(t *testing.T) {
		f := newServiceFixture(t)
		result, err := f.svc.Login(ctx, "nobody", "secret")
		require.Error(t, err)
		assert.Nil(t, result)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("wrong passwords lock the account", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")

		for i, attempt := range []string{"wrong1", "wrong2", "wrong3"} {
			_, err := f.svc.Login(ctx, "admin", attempt)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
			assert.Equal(t, i+1, f.account(t, "admin").FailedAttempts)
		}

		stored := f.account(t, "admin")
		require.NotNil(t, stored.LockedUntil)
		assert.Equal(t, accountNow.Add(30*time.Minute), *stored.LockedUntil)

		_, err := f.svc.Login(ctx, "admin", "admin")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")
		errutil.AssertErrorContext(t, err, "locked_until", accountNow.Add(30*time.Minute))
		assert.Equal(t, 3, f.account(t, "admin").FailedAttempts)
	})

	t.Run("wrong password while locked re-arms the lock", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}

		f.clock.Advance(10 * time.Minute)
		_, err := f.svc.Login(ctx, "admin", "wrong")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")

		stored := f.account(t, "admin")
		assert.Equal(t, 4, stored.FailedAttempts)
		require.NotNil(t, stored.LockedUntil)
		assert.Equal(t, accountNow.Add(40*time.Minute), *stored.LockedUntil)
	})

	t.Run("lock is held at its expiry instant", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}

		f.clock.Advance(30 * time.Minute)
		_, err := f.svc.Login(ctx, "admin", "admin")
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")
	})

	t.Run("elapsed lock is cleared on next correct login", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}

		f.clock.Advance(30*time.Minute + time.Second)
		result, err := f.svc.Login(ctx, "admin", "admin")
		require.NoError(t, err)
		assert.Zero(t, result.Account.FailedAttempts)
		assert.Nil(t, result.Account.LockedUntil)
	})

	t.Run("elapsed lock restarts the failure count", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}

		f.clock.Advance(31 * time.Minute)
		_, err := f.svc.Login(ctx, "admin", "wrong")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")

		stored := f.account(t, "admin")
		assert.Equal(t, 1, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)
	})

	t.Run("success resets failure count", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "user")
		for range 2 {
			_, _ = f.svc.Login(ctx, "user", "wrong")
		}

		_, err := f.svc.Login(ctx, "user", "user")
		require.NoError(t, err)
		assert.Zero(t, f.account(t, "user").FailedAttempts)
	})

	t.Run("reports expired password", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "user")

		f.clock.Advance(90 * 24 * time.Hour)
		result, err := f.svc.Login(ctx, "user", "user")
		require.NoError(t, err)
		assert.False(t, result.PasswordExpired)

		f.clock.Advance(time.Second)
		result, err = f.svc.Login(ctx, "user", "user")
		require.NoError(t, err)
		assert.True(t, result.PasswordExpired)
	})

	t.Run("concurrent failures are all counted", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "shafnas", "shafnas")

		const workers = 12
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.Login(ctx, "shafnas", "wrong")
			}()
		}
		wg.Wait()

		stored := f.account(t, "shafnas")
		assert.Equal(t, workers, stored.FailedAttempts)
		assert.NotNil(t, stored.LockedUntil)
	})
}

func TestService_Login_UpgradesDigest(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: accountNow}
	accounts := memory.NewAccountRepository()
	hasher := mocks.NewMockPasswordHasher(t)
	svc := newServiceWith(t, accounts, hasher, clock)

	account, err := auth.NewAccount("legacy", nil, "$2a$old", accountNow)
	require.NoError(t, err)
	require.NoError(t, accounts.Create(ctx, account))

	hasher.On("Verify", "secret", "$2a$old").Return(true, nil)
	hasher.On("NeedsUpgrade", "$2a$old").Return(true)
	hasher.On("Hash", "secret").Return("$argon2id$new", nil)

	result, err := svc.Login(ctx, "legacy", "secret")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$new", result.Account.Digest)

	stored, err := accounts.GetByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$new", stored.Digest)
	// An upgrade re-encodes the same secret, so expiry is unchanged.
	assert.Equal(t, accountNow, *stored.ChangedAt)
}

func TestService_Login_UpgradeFailureKeepsDigest(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: accountNow}
	accounts := memory.NewAccountRepository()
	hasher := mocks.NewMockPasswordHasher(t)
	var buf bytes.Buffer
	svc := newServiceWith(t, accounts, hasher, clock, auth.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	account, err := auth.NewAccount("legacy", nil, "$2a$old", accountNow)
	require.NoError(t, err)
	require.NoError(t, accounts.Create(ctx, account))

	hasher.On("Verify", "secret", "$2a$old").Return(true, nil)
	hasher.On("NeedsUpgrade", "$2a$old").Return(true)
	hasher.On("Hash", "secret").Return("", errors.New("rng failure"))

	_, err = svc.Login(ctx, "legacy", "secret")
	require.NoError(t, err)

	stored, err := accounts.GetByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "$2a$old", stored.Digest)
	assert.Contains(t, buf.String(), "password digest upgrade failed")
}

func TestService_Login_Errors(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: accountNow}

	t.Run("verify error fails login without counting", func(t *testing.T) {
		accounts := memory.NewAccountRepository()
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newServiceWith(t, accounts, hasher, clock)

		account, err := auth.NewAccount("broken", nil, "garbage", accountNow)
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, account))
		hasher.On("Verify", "secret", "garbage").Return(false, errors.New("bad digest"))

		_, err = svc.Login(ctx, "broken", "secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")

		stored, err := accounts.GetByUsername(ctx, "broken")
		require.NoError(t, err)
		assert.Zero(t, stored.FailedAttempts)
	})

	t.Run("repository error fails login", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newServiceWith(t, accounts, hasher, clock)

		accounts.On("Update", mock.Anything, "admin", mock.Anything).Return(nil, errors.New("connection reset"))

		_, err := svc.Login(ctx, "admin", "secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "update account")
	})

	t.Run("unknown user still runs verification", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc := newServiceWith(t, accounts, hasher, clock)

		accounts.On("Update", mock.Anything, "ghost", mock.Anything).Return(nil, auth.ErrNotFound)
		hasher.On("Verify", "secret", mock.AnythingOfType("string")).Return(false, nil).Once()

		_, err := svc.Login(ctx, "ghost", "secret")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong current password fails", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "first")

		err := f.svc.ChangePassword(ctx, "user", "nope", "second")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
		assert.Equal(t, 0, f.account(t, "user").FailedAttempts)
	})

	t.Run("reusing current password fails", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "first")

		err := f.svc.ChangePassword(ctx, "user", "first", "first")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_REUSED")
		errutil.AssertErrorContext(t, err, "history_limit", 3)
	})

	t.Run("rotates history and enforces the limit", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "p0")

		current := "p0"
		for _, next := range []string{"p1", "p2", "p3"} {
			f.clock.Advance(time.Hour)
			require.NoError(t, f.svc.ChangePassword(ctx, "user", current, next))
			current = next
		}

		stored := f.account(t, "user")
		assert.Len(t, stored.History, 3)
		assert.Equal(t, accountNow.Add(3*time.Hour), *stored.ChangedAt)

		for _, old := range []string{"p0", "p1", "p2"} {
			err := f.svc.ChangePassword(ctx, "user", current, old)
			errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_REUSED")
		}

		require.NoError(t, f.svc.ChangePassword(ctx, "user", "p3", "p4"))
		assert.Len(t, f.account(t, "user").History, 3)

		// p0 has aged out of the last three.
		require.NoError(t, f.svc.ChangePassword(ctx, "user", "p4", "p0"))

		_, err := f.svc.Login(ctx, "user", "p0")
		require.NoError(t, err)
	})

	t.Run("change resets expiry", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "first")

		f.clock.Advance(100 * 24 * time.Hour)
		result, err := f.svc.Login(ctx, "user", "first")
		require.NoError(t, err)
		require.True(t, result.PasswordExpired)

		require.NoError(t, f.svc.ChangePassword(ctx, "user", "first", "second"))
		result, err = f.svc.Login(ctx, "user", "second")
		require.NoError(t, err)
		assert.False(t, result.PasswordExpired)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture(t)
		err := f.svc.ChangePassword(ctx, "ghost", "a", "b")
		require.Error(t, err)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "user", "first")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := f.svc.ChangePassword(cctx, "user", "first", "second")
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestService_AdminUnlock(t *testing.T) {
	ctx := context.Background()

	t.Run("unlocks a locked account", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")

		for _, attempt := range []string{"wrong1", "wrong2", "wrong3", "admin"} {
			_, err := f.svc.Login(ctx, "admin", attempt)
			require.Error(t, err)
		}

		require.NoError(t, f.svc.AdminUnlock(ctx, "admin"))
		stored := f.account(t, "admin")
		assert.Zero(t, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)

		_, err := f.svc.Login(ctx, "admin", "admin")
		require.NoError(t, err)
	})

	t.Run("unlocking an unlocked account is a no-op", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		require.NoError(t, f.svc.AdminUnlock(ctx, "admin"))
		assert.Zero(t, f.account(t, "admin").FailedAttempts)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture(t)
		err := f.svc.AdminUnlock(ctx, "ghost")
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("repository error is wrapped", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		svc := newServiceWith(t, accounts, mocks.NewMockPasswordHasher(t), &fakeClock{now: accountNow})
		accounts.On("Update", mock.Anything, "admin", mock.Anything).Return(nil, errors.New("disk full"))

		err := svc.AdminUnlock(ctx, "admin")
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_UPDATE_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "admin unlock")
	})
}

func TestService_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("locked account", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}
		f.clock.Advance(10 * time.Minute)

		status, err := f.svc.Status(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, credential.LockStateLocked, status.State)
		assert.Equal(t, 3, status.FailedAttempts)
		assert.Equal(t, 20*time.Minute, status.RemainingLockout)
		assert.False(t, status.PasswordExpired)
		require.NotNil(t, status.PasswordExpires)
		assert.Equal(t, accountNow.AddDate(0, 0, 90), *status.PasswordExpires)
	})

	t.Run("does not clear an elapsed lock", func(t *testing.T) {
		f := newServiceFixture(t)
		f.register(t, "admin", "admin")
		for range 3 {
			_, _ = f.svc.Login(ctx, "admin", "wrong")
		}
		f.clock.Advance(time.Hour)

		status, err := f.svc.Status(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, credential.LockStateUnlocked, status.State)
		assert.Zero(t, status.RemainingLockout)

		stored := f.account(t, "admin")
		assert.Equal(t, 3, stored.FailedAttempts)
		assert.NotNil(t, stored.LockedUntil)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Status(ctx, "ghost")
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})
}
