// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for credpolicy.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName    = "credpolicy"
	configName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/credpolicy, falling back to
// ~/.config/credpolicy.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_NO_HOME").Wrap(err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigFile returns the default config file path. The file may not exist.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName), nil
}
