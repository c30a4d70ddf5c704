// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credpolicy/internal/store"
)

// migrator is the part of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

type newMigratorFunc func(databaseURL string) (migrator, error)

func defaultNewMigrator(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// newMigrateCmd creates the migrate command and its subcommands.
func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential account schema",
		Long:  `Apply, revert or inspect the PostgreSQL schema that stores credential accounts.`,
	}

	// withMigrator opens a migrator for the configured database and closes
	// it after fn.
	withMigrator := func(fn func(cmd *cobra.Command, m migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) (err error) {
			url, err := a.databaseURL()
			if err != nil {
				return err
			}
			m, err := a.newMigrator(url)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			return fn(cmd, m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		}),
	})

	var confirm bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert all migrations, dropping every credential account",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			if !confirm {
				return oops.Code("MIGRATION_NOT_CONFIRMED").
					Errorf("reverting drops all credential accounts; pass --yes to confirm")
			}
			if err := m.Down(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		}),
	}
	down.Flags().BoolVar(&confirm, "yes", false, "confirm dropping the credential tables")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied and pending schema versions",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			return printMigrationStatus(cmd, m)
		}),
	})

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a schema version as applied and clear the dirty flag",
		Long: `Record version as the applied schema version without running any
migration. Use it after repairing a failed migration by hand. Pass -1 to
record that no migration is applied.`,
		Args: cobra.ExactArgs(1),
	}
	force.RunE = func(cmd *cobra.Command, args []string) error {
		version, err := parseForceVersion(args[0])
		if err != nil {
			return err
		}
		return withMigrator(func(cmd *cobra.Command, m migrator) error {
			if err := m.Force(version); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		})(cmd, args)
	}
	cmd.AddCommand(force)

	return cmd
}

func parseForceVersion(s string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", s).Wrap(err)
	}
	return version, nil
}

func printMigrationStatus(cmd *cobra.Command, m migrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	line := fmt.Sprintf("version: %d", status.Version)
	if status.Dirty {
		line += " (dirty)"
	}
	_, _ = fmt.Fprintln(out, line)

	if len(status.Pending) == 0 {
		_, err = fmt.Fprintln(out, "pending: none")
		return err
	}
	pending := make([]string, len(status.Pending))
	for i, v := range status.Pending {
		pending[i] = strconv.FormatUint(uint64(v), 10)
	}
	_, err = fmt.Fprintln(out, "pending: "+strings.Join(pending, ", "))
	return err
}
