// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credpolicy/internal/auth"
	"github.com/holomush/credpolicy/internal/auth/memory"
	"github.com/holomush/credpolicy/internal/credential"
	"github.com/holomush/credpolicy/internal/observability"
	"github.com/holomush/credpolicy/pkg/errutil"
)

const (
	demoUsername = "demo_admin"
	demoPassword = "admin"
)

var (
	demoChangedAt  = time.Date(2026, time.January, 27, 0, 0, 0, 0, time.UTC)
	demoHistory    = []string{"user", "shafnas"}
	demoCandidates = []string{"user", "newStrongPass1!"}
	demoAttempts   = []string{"wrong1", "wrong2", "wrong3", "admin"}
)

type demoConfig struct {
	scheme  string
	metrics bool
}

func newDemoCmd(a *app) *cobra.Command {
	cfg := &demoConfig{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through expiry, reuse and lockout on a sample account",
		Long: `Create a sample account in memory and exercise the policies against it:
an expiry check, reuse checks against the password history, login attempts
until the account locks, and an administrator unlock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), a, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cfg.scheme, "scheme", auth.SchemeArgon2id, "hash scheme for the sample digests (argon2id or bcrypt)")
	cmd.Flags().BoolVar(&cfg.metrics, "metrics", false, "print policy metrics in Prometheus text format when done")

	return cmd
}

func runDemo(ctx context.Context, a *app, cfg *demoConfig, out io.Writer) error {
	primary, err := auth.NewHasher(cfg.scheme)
	if err != nil {
		return err
	}
	hasher := auth.NewMultiHasher(primary)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry).WithClock(a.clock)

	accounts := memory.NewAccountRepository()
	svc, err := a.newService(accounts, hasher, metrics)
	if err != nil {
		return err
	}
	passwords, _, err := a.newPolicies(hasher, metrics)
	if err != nil {
		return err
	}

	account, err := seedDemoAccount(ctx, accounts, hasher, a.clock.Now())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "=== Password Security Tests ===")
	if passwords.IsExpired(&account.Record) {
		_, _ = fmt.Fprintln(out, "Password expired! User must reset.")
	} else {
		_, _ = fmt.Fprintln(out, "Password not expired.")
	}
	for _, candidate := range demoCandidates {
		reused, err := passwords.IsReused(ctx, candidate, account.History)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Is %q password reused? -> %t\n", candidate, reused)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "=== Lockout Security Tests ===")
	for _, attempt := range demoAttempts {
		locked, err := demoLogin(ctx, svc, attempt, out)
		if err != nil {
			return err
		}
		if locked {
			break
		}
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "=== Admin Unlock Test ===")
	if err := svc.AdminUnlock(ctx, demoUsername); err != nil {
		return err
	}
	status, err := svc.Status(ctx, demoUsername)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Admin unlocked account. Attempts: %d, locked until: %s\n",
		status.FailedAttempts, formatTime(status.LockedUntil))

	if cfg.metrics {
		_, _ = fmt.Fprintln(out)
		return observability.WriteText(out, registry)
	}
	return nil
}

// seedDemoAccount stores the sample account: password "admin", changed on
// 2026-01-27, with "user" and "shafnas" in its history.
func seedDemoAccount(ctx context.Context, accounts auth.AccountRepository, hasher auth.PasswordHasher, now time.Time) (*auth.Account, error) {
	digest, err := hasher.Hash(demoPassword)
	if err != nil {
		return nil, err
	}
	email := "test@example.com"
	account, err := auth.NewAccount(demoUsername, &email, digest, now)
	if err != nil {
		return nil, err
	}

	changedAt := demoChangedAt
	account.ChangedAt = &changedAt
	for _, old := range demoHistory {
		d, err := hasher.Hash(old)
		if err != nil {
			return nil, err
		}
		account.History = append(account.History, d)
	}

	if err := accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// demoLogin attempts one login and reports whether the account is now
// locked.
func demoLogin(ctx context.Context, svc *auth.Service, password string, out io.Writer) (bool, error) {
	_, loginErr := svc.Login(ctx, demoUsername, password)
	status, err := svc.Status(ctx, demoUsername)
	if err != nil {
		return false, err
	}

	switch errutil.Code(loginErr) {
	case "":
		if loginErr != nil {
			return false, loginErr
		}
		_, _ = fmt.Fprintf(out, "Login successful for %q. Attempts reset: %d\n", password, status.FailedAttempts)
		return false, nil
	case "AUTH_INVALID_CREDENTIALS":
		_, _ = fmt.Fprintf(out, "Login failed for %q. Attempts: %d\n", password, status.FailedAttempts)
	case "AUTH_ACCOUNT_LOCKED":
		_, _ = fmt.Fprintf(out, "Login refused for %q.\n", password)
	default:
		return false, oops.With("operation", "demo login").Wrap(loginErr)
	}

	if status.State == credential.LockStateLocked {
		_, _ = fmt.Fprintf(out, "Account locked until %s\n", formatTime(status.LockedUntil))
		return true, nil
	}
	return false, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
