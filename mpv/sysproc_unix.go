//go:build !windows

package mpv

import (
	"os/exec"
	"syscall"
)

// sysProcAttr detaches the player into its own process group so that
// signals aimed at the receiver (Ctrl-C in the launching terminal) do not
// tear down a playback the server still believes is running.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcess kills the player and the whole group it leads, so helper
// processes it spawned (youtube-dl, scripts) die with it.
func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	return cmd.Process.Kill()
}
