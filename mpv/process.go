package mpv

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jmsr-app/jmsr/constant"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/spf13/viper"
)

// ErrExecutableNotFound means no usable mpv binary could be located.
var ErrExecutableNotFound = errors.New("mpv: executable not found")

// wellKnownPaths lists platform install locations checked after the
// configured path and before PATH.
func wellKnownPaths() []string {
	switch runtime.GOOS {
	case constant.Windows:
		return []string{
			`C:\Program Files\mpv\mpv.exe`,
			`C:\Program Files (x86)\mpv\mpv.exe`,
			`C:\mpv\mpv.exe`,
		}
	case constant.Darwin:
		return []string{
			"/usr/local/bin/mpv",
			"/opt/homebrew/bin/mpv",
			"/Applications/mpv.app/Contents/MacOS/mpv",
		}
	default:
		return []string{
			"/usr/bin/mpv",
			"/usr/local/bin/mpv",
		}
	}
}

// findExecutable resolves the player binary: explicit configured path first,
// then well-known install roots, then PATH. Symlink chains (package-manager
// shims) are canonicalized so the player sees a real argv[0], and on Windows
// the console variant is rewritten to the windowed one.
func findExecutable() (string, error) {
	if configured := viper.GetString(key.PlayerPath); configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("mpv: configured path %q: %w", configured, err)
		}
		return canonicalize(configured), nil
	}

	for _, candidate := range wellKnownPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return canonicalize(candidate), nil
		}
	}

	if path, err := exec.LookPath("mpv"); err == nil {
		return canonicalize(path), nil
	}

	return "", ErrExecutableNotFound
}

// canonicalize resolves symlink indirection and swaps the Windows console
// binary for the windowed one.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	if runtime.GOOS == constant.Windows && strings.EqualFold(filepath.Ext(path), ".com") {
		windowed := strings.TrimSuffix(path, filepath.Ext(path)) + ".exe"
		if _, err := os.Stat(windowed); err == nil {
			log.Debugf("mpv: using windowed variant %s", windowed)
			return windowed
		}
	}

	return path
}

// baselineArgs is the mandatory spawn argument set: bind the control channel
// to our endpoint, idle instead of exiting, always open a window, hold the
// last frame at end of file. User arguments append last so they win.
func baselineArgs(endpoint string) []string {
	args := []string{
		"--input-ipc-server=" + endpoint,
		"--idle=yes",
		"--force-window=yes",
		"--keep-open=yes",
		"--no-terminal",
	}
	return append(args, viper.GetStringSlice(key.PlayerArgs)...)
}

// spawn starts the player process detached from our stdio.
func spawn(executable string, endpoint string) (*exec.Cmd, error) {
	args := baselineArgs(endpoint)
	log.Infof("mpv: spawning %s %s", executable, strings.Join(args, " "))

	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mpv: spawn: %w", err)
	}

	return cmd, nil
}
