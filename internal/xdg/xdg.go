// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates clanwar's files under the XDG base directories.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "clanwar"

// ConfigFileName is the file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/clanwar, defaulting the base to
// ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default config file path if it exists. A missing
// file or home directory is not an error.
func ConfigFile() (string, bool, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", false, nil //nolint:nilerr // no home means no default file
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", false, nil
	case err != nil:
		return "", false, oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", false, oops.Code("XDG_NOT_A_FILE").With("path", path).Errorf("%s is a directory", path)
	}
	return path, true, nil
}
