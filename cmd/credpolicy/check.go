// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/credpolicy/internal/auth"
	"github.com/holomush/credpolicy/internal/credential"
)

// checkResult is the JSON report printed by the check command.
type checkResult struct {
	Expired        bool       `json:"expired"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
	LockElapsed    bool       `json:"lock_elapsed,omitempty"`
	Reused         *bool      `json:"reused,omitempty"`
}

type checkConfig struct {
	record    string
	candidate string
	write     bool
}

func newCheckCmd(a *app) *cobra.Command {
	cfg := &checkConfig{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the policies against a credential record file",
		Long: `Load a credential record from a YAML or JSON file and report whether its
password has expired, whether it is locked, and optionally whether a
candidate password was used recently.

An elapsed lock is cleared when the record is checked. Pass --write to save
the cleared record back to the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), a, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cfg.record, "record", "", "credential record file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&cfg.candidate, "candidate", "", "password to check against the record history")
	cmd.Flags().BoolVar(&cfg.write, "write", false, "write the record back if checking it cleared an elapsed lock")
	_ = cmd.MarkFlagRequired("record") //nolint:errcheck // flag is registered above

	return cmd
}

func runCheck(ctx context.Context, a *app, cfg *checkConfig, out io.Writer) error {
	rec, err := readRecord(cfg.record)
	if err != nil {
		return err
	}

	passwords, lockout, err := a.newPolicies(auth.NewMultiHasher(nil), nil)
	if err != nil {
		return err
	}

	wasLocked := rec.LockedUntil != nil
	result := checkResult{
		Expired: passwords.IsExpired(rec),
		Locked:  lockout.IsAccountLocked(rec),
	}
	if expiry, ok := passwords.ExpiresAt(rec); ok {
		result.ExpiresAt = &expiry
	}
	result.LockedUntil = rec.LockedUntil
	result.FailedAttempts = rec.FailedAttempts
	result.LockElapsed = wasLocked && !result.Locked

	if cfg.candidate != "" {
		reused, err := passwords.IsReused(ctx, cfg.candidate, rec.History)
		if err != nil {
			return err
		}
		result.Reused = &reused
	}

	if cfg.write && result.LockElapsed {
		if err := writeRecord(cfg.record, rec); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return oops.Code("CHECK_OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// readRecord decodes a credential record. Files ending in .json are JSON;
// anything else is YAML.
func readRecord(path string) (*credential.Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, oops.Code("RECORD_READ_FAILED").With("path", path).Wrap(err)
	}

	var rec credential.Record
	if isJSON(path) {
		err = json.Unmarshal(data, &rec)
	} else {
		err = yaml.Unmarshal(data, &rec)
	}
	if err != nil {
		return nil, oops.Code("RECORD_DECODE_FAILED").With("path", path).Wrap(err)
	}
	if rec.FailedAttempts < 0 {
		return nil, oops.Code("RECORD_DECODE_FAILED").
			With("path", path).
			With("failed_attempts", rec.FailedAttempts).
			Errorf("failed_attempts must not be negative")
	}
	return &rec, nil
}

// writeRecord replaces the record file, keeping its format.
func writeRecord(path string, rec *credential.Record) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(rec, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(rec)
	}
	if err != nil {
		return oops.Code("RECORD_ENCODE_FAILED").With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("RECORD_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
