// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateIface is the part of *migrate.Migrate the Migrator drives, so
// tests can run without a database.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
	Close() (source error, database error)
}

// Migrator applies the embedded credential schema migrations.
type Migrator struct {
	m migrateIface
}

// Status describes the schema version of a database.
type Status struct {
	Version uint
	Dirty   bool
	Pending []uint
}

// migrateURL rewrites postgres:// and postgresql:// URLs to the pgx5://
// scheme the golang-migrate pgx/v5 driver registers.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// NewMigrator creates a Migrator for databaseURL.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "open embedded migrations").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}
	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down reverts every migration, dropping the credential tables and their data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps migrates n steps up (n > 0) or down (n < 0). Zero does nothing.
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Force records version as applied and clears the dirty flag without
// running any migration. Use it to recover from a failed migration after
// repairing the schema by hand. -1 means no version.
func (m *Migrator) Force(version int) error {
	if version < -1 {
		return oops.Code("MIGRATION_INVALID_VERSION").With("version", version).Errorf("version must be -1 or greater")
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Version returns the applied schema version. A database without any
// applied migration reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Status reports the applied version and the embedded migrations newer
// than it.
func (m *Migrator) Status() (*Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := migrationVersions(migrationsFS)
	if err != nil {
		return nil, err
	}

	status := &Status{Version: version, Dirty: dirty}
	for _, v := range all {
		if v > version {
			status.Pending = append(status.Pending, v)
		}
	}
	return status, nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// migrationVersions lists the versions of the NNNNNN_name.up.sql files in
// fsys, ascending. Files that do not follow the pattern are ignored.
func migrationVersions(fsys fs.ReadDirFS) ([]uint, error) {
	entries, err := fsys.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	var versions []uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d_", &version); err != nil {
			continue
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return slices.Compact(versions), nil
}
