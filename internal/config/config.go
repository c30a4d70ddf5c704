// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credpolicy settings from a YAML file and command-line
// flags.
package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credpolicy/internal/credential"
	"github.com/holomush/credpolicy/internal/logging"
	"github.com/holomush/credpolicy/internal/xdg"
)

// DatabaseURLEnv is consulted when no database URL is configured.
const DatabaseURLEnv = "DATABASE_URL"

// Settings is the credpolicy configuration.
type Settings struct {
	Policy   credential.Override `json:"policy,omitempty" koanf:"policy" jsonschema:"description=Credential policy tunables. Omitted keys keep their defaults."`
	Log      LogSettings         `json:"log,omitempty" koanf:"log"`
	Database DatabaseSettings    `json:"database,omitempty" koanf:"database"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Format string `json:"format,omitempty" koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `json:"level,omitempty" koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseSettings configures the PostgreSQL account store.
type DatabaseSettings struct {
	URL string `json:"url,omitempty" koanf:"url" jsonschema:"description=PostgreSQL connection URL"`
}

// PolicyConfig merges the policy overrides over the defaults and validates
// the result.
func (s *Settings) PolicyConfig() (credential.Config, error) {
	cfg := credential.DefaultConfig().Merge(s.Policy)
	if err := cfg.Validate(); err != nil {
		return credential.Config{}, err
	}
	return cfg, nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"expiry-days":         "policy.expiry_days",
	"history-limit":       "policy.history_limit",
	"max-failed-attempts": "policy.max_failed_attempts",
	"lockout-minutes":     "policy.lockout_duration_minutes",
	"log-format":          "log.format",
	"log-level":           "log.level",
	"database-url":        "database.url",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("expiry-days", credential.DefaultExpiryDays, "days after which a password expires")
	fs.Int("history-limit", credential.DefaultHistoryLimit, "number of previous passwords that cannot be reused")
	fs.Int("max-failed-attempts", credential.DefaultMaxFailedAttempts, "failed logins before the account locks")
	fs.Int("lockout-minutes", credential.DefaultLockoutDurationMinutes, "minutes an account stays locked")
	fs.String("log-format", logging.FormatJSON, "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL (default $"+DatabaseURLEnv+")")
}

// flagCallback returns a posflag callback that renames flags to configuration
// keys and skips flags the user did not set, so defaults never shadow file
// values.
func flagCallback(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Load reads settings in order: the config file, changed flags, then
// DATABASE_URL when no URL was configured. An empty path means the default
// XDG config file, which is skipped if it does not exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	ko := koanf.New(".")

	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		// Read once so the bytes loaded are the bytes validated.
		data, err := file.Provider(path).ReadBytes()
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := ko.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := ko.Load(posflag.ProviderWithFlag(flags, ".", ko, flagCallback(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var s Settings
	if err := ko.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if s.Database.URL == "" {
		s.Database.URL = os.Getenv(DatabaseURLEnv)
	}
	if s.Log.Format == "" {
		s.Log.Format = logging.FormatJSON
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}

	if _, err := s.PolicyConfig(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &s, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	def, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file.
		return "", nil //nolint:nilerr // the default file is optional
	}
	if _, err := os.Stat(def); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_READ_FAILED").With("path", def).Wrap(err)
	}
	return def, nil
}
