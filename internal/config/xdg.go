// Package config provides XDG path helpers.
package config

import (
	"os"
	"path/filepath"
)

const appName = "drillog"

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultDataDir returns the directory holding the per-user partitions.
func DefaultDataDir() string {
	return filepath.Join(XDGDataHome(), appName)
}

// DefaultDatasetDir returns the default directory for dataset files.
func DefaultDatasetDir() string {
	return filepath.Join(XDGConfigHome(), appName, "datasets")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultDataDir(), appName+".log")
}

// DefaultServerDBPath returns the default database of the development server.
func DefaultServerDBPath() string {
	return filepath.Join(DefaultDataDir(), "server.db")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), appName, "config.toml")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
