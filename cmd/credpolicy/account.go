// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credpolicy/internal/auth"
)

// newUnlockCmd creates the unlock subcommand.
func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <username>",
		Short: "Clear the lockout of an account",
		Long:  `Reset the failed login counter of an account and lift any lock, whatever its remaining duration.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, release, err := a.accountService(ctx)
			if err != nil {
				return err
			}
			defer release()

			if err := svc.AdminUnlock(ctx, args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "account %s unlocked\n", args[0])
			return err
		},
	}
}

// accountStatusJSON is the JSON form of auth.AccountStatus.
type accountStatusJSON struct {
	Username                string     `json:"username"`
	State                   string     `json:"state"`
	FailedAttempts          int        `json:"failed_attempts"`
	LockedUntil             *time.Time `json:"locked_until,omitempty"`
	RemainingLockoutSeconds int64      `json:"remaining_lockout_seconds,omitempty"`
	PasswordExpired         bool       `json:"password_expired"`
	PasswordExpires         *time.Time `json:"password_expires,omitempty"`
}

// newStatusCmd creates the status subcommand.
func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <username>",
		Short: "Show the lockout and expiry state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, release, err := a.accountService(ctx)
			if err != nil {
				return err
			}
			defer release()

			status, err := svc.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeStatusJSON(cmd.OutOrStdout(), status)
			}
			writeStatusTable(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func writeStatusJSON(w io.Writer, status *auth.AccountStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(accountStatusJSON{
		Username:                status.Username,
		State:                   status.State.String(),
		FailedAttempts:          status.FailedAttempts,
		LockedUntil:             status.LockedUntil,
		RemainingLockoutSeconds: int64(status.RemainingLockout / time.Second),
		PasswordExpired:         status.PasswordExpired,
		PasswordExpires:         status.PasswordExpires,
	})
	if err != nil {
		return oops.Code("STATUS_OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

func writeStatusTable(w io.Writer, status *auth.AccountStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "USERNAME\t%s\n", status.Username)
	_, _ = fmt.Fprintf(tw, "STATE\t%s\n", status.State)
	_, _ = fmt.Fprintf(tw, "FAILED ATTEMPTS\t%d\n", status.FailedAttempts)
	if status.LockedUntil != nil {
		_, _ = fmt.Fprintf(tw, "LOCKED UNTIL\t%s (%s left)\n",
			formatTime(status.LockedUntil), status.RemainingLockout.Round(time.Second))
	}
	expiry := "never"
	if status.PasswordExpires != nil {
		expiry = formatTime(status.PasswordExpires)
	}
	if status.PasswordExpired {
		expiry += " (expired)"
	}
	_, _ = fmt.Fprintf(tw, "PASSWORD EXPIRES\t%s\n", expiry)
	_ = tw.Flush()
}
