// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credpolicy/internal/auth"
	"github.com/holomush/credpolicy/internal/auth/postgres"
	"github.com/holomush/credpolicy/internal/config"
	"github.com/holomush/credpolicy/internal/credential"
	"github.com/holomush/credpolicy/internal/logging"
	"github.com/holomush/credpolicy/internal/store"
)

const serviceName = "credpolicy"

// openAccountsFunc opens the account repository used by the admin commands.
// The returned func releases it.
type openAccountsFunc func(ctx context.Context, databaseURL string) (auth.AccountRepository, func(), error)

// app carries the state shared by all subcommands.
type app struct {
	configFile string
	settings   *config.Settings
	logger     *slog.Logger
	clock      credential.Clock

	openAccounts openAccountsFunc
	newMigrator  newMigratorFunc
}

// NewRootCmd creates the root command for the credpolicy CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		clock:        credential.SystemClock{},
		openAccounts: openPostgresAccounts,
		newMigrator:  defaultNewMigrator,
	})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credpolicy",
		Short: "credpolicy - password expiry, reuse and lockout policies",
		Long: `credpolicy evaluates credential policies: password expiry after a
number of days, reuse of recent passwords, and temporary account lockout
after repeated failed logins.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/credpolicy/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newDemoCmd(a))
	cmd.AddCommand(newHashCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newUnlockCmd(a))
	cmd.AddCommand(newStatusCmd(a))

	return cmd
}

// init loads the settings and installs the process logger.
func (a *app) init(cmd *cobra.Command) error {
	settings, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.Setup(serviceName, cmd.Root().Version, settings.Log.Format, settings.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "set up logging").Wrap(err)
	}
	slog.SetDefault(logger)

	a.settings = settings
	a.logger = logger
	return nil
}

// newPolicies builds both policies from the loaded settings. Digests are
// compared with hasher.
func (a *app) newPolicies(hasher auth.PasswordHasher, observer credential.Observer) (*credential.PasswordPolicy, *credential.LockoutPolicy, error) {
	cfg, err := a.settings.PolicyConfig()
	if err != nil {
		return nil, nil, err
	}
	opts := []credential.Option{
		credential.WithConfig(cfg),
		credential.WithClock(a.clock),
		credential.WithLogger(a.logger),
		credential.WithObserver(observer),
	}

	passwords, err := credential.NewPasswordPolicy(auth.NewDigestComparator(hasher), opts...)
	if err != nil {
		return nil, nil, err
	}
	lockout, err := credential.NewLockoutPolicy(opts...)
	if err != nil {
		return nil, nil, err
	}
	return passwords, lockout, nil
}

// newService builds an account service over accounts.
func (a *app) newService(accounts auth.AccountRepository, hasher auth.PasswordHasher, observer credential.Observer) (*auth.Service, error) {
	passwords, lockout, err := a.newPolicies(hasher, observer)
	if err != nil {
		return nil, err
	}
	return auth.NewService(accounts, hasher, passwords, lockout,
		auth.WithClock(a.clock),
		auth.WithLogger(a.logger),
	)
}

// databaseURL returns the configured database URL.
func (a *app) databaseURL() (string, error) {
	if a.settings.Database.URL == "" {
		return "", oops.Code("CONFIG_DATABASE_URL_REQUIRED").
			Errorf("database URL is required: set database.url, --database-url or $%s", config.DatabaseURLEnv)
	}
	return a.settings.Database.URL, nil
}

// accountService opens the configured account store and builds a service
// over it. The returned func releases the store.
func (a *app) accountService(ctx context.Context) (*auth.Service, func(), error) {
	url, err := a.databaseURL()
	if err != nil {
		return nil, nil, err
	}
	accounts, release, err := a.openAccounts(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	svc, err := a.newService(accounts, auth.NewMultiHasher(nil), nil)
	if err != nil {
		release()
		return nil, nil, err
	}
	return svc, release, nil
}

func openPostgresAccounts(ctx context.Context, databaseURL string) (auth.AccountRepository, func(), error) {
	pool, err := store.Open(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewAccountRepository(pool), pool.Close, nil
}
