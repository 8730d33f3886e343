//go:build windows

package worker

import (
	"os/exec"
)

func setupProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; both steps kill the worker outright.
func terminateGroup(cmd *exec.Cmd) error {
	return killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
