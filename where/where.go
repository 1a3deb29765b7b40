// Package where implements a cross-platform resolver for application-specific filesystem paths.
package where

import (
	"os"
	"path/filepath"

	"github.com/jmsr-app/jmsr/constant"
	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/samber/lo"
)

// EnvConfigPath is the environment variable identifier used to override the default configuration directory.
const EnvConfigPath = "JMSR_CONFIG_PATH"

// ensureDir guarantees the existence of a directory at the specified path, creating it if necessary.
func ensureDir(path string) string {
	lo.Must0(filesystem.API().MkdirAll(path, os.ModePerm))
	return path
}

// Config resolves the absolute path to the primary application configuration directory.
// It prioritizes the XDG_CONFIG_HOME specification on Linux and equivalent user profile paths on Darwin and Windows.
// Direct override: The path resolution can be explicitly specified via the JMSR_CONFIG_PATH environment variable.
func Config() string {
	if custom, ok := os.LookupEnv(EnvConfigPath); ok {
		return ensureDir(custom)
	}

	base := lo.Must(os.UserConfigDir())
	return ensureDir(filepath.Join(base, constant.Jmsr))
}

// Logs resolves the absolute path to the directory used for application diagnostic and audit logs.
func Logs() string {
	return ensureDir(filepath.Join(Config(), "logs"))
}

// Preferences resolves the absolute path to the persisted per-series track preference registry.
func Preferences() string {
	return filepath.Join(Config(), "preferences.json")
}

// Session resolves the absolute path to the saved server session file.
func Session() string {
	return filepath.Join(Config(), "session.json")
}

// DeviceID resolves the absolute path to the persisted device identifier file.
func DeviceID() string {
	return filepath.Join(Config(), "device_id")
}

// PlayerConfig resolves the player's per-application configuration directory,
// the location for the generated key-binding snippet.
func PlayerConfig() string {
	base := lo.Must(os.UserConfigDir())
	return ensureDir(filepath.Join(base, "mpv"))
}

// Temp resolves a unique, volatile filesystem path for transient application artifacts.
func Temp() string {
	return ensureDir(filepath.Join(os.TempDir(), constant.Jmsr))
}
