//go:build windows

package mpv

import (
	"os/exec"
	"syscall"
)

// sysProcAttr returns nil on Windows: console signal groups work
// differently there, and the windowed mpv binary already runs detached
// from our console.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// killProcess terminates the player process; Windows has no process-group
// kill, and mpv's children exit with it.
func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
