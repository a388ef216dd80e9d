//go:build unix

package utils

import (
	"os/exec"
	"syscall"

	errw "github.com/pkg/errors"
)

// PlatformProcSettings puts the child in its own process group so KillTree can reach its children.
func PlatformProcSettings(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillTree sends SIGKILL to the process group.
func KillTree(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return errw.Wrapf(err, "killing PID %d", pid)
	}
	return nil
}
