//go:build !unix

package utils

import (
	"os"
	"os/exec"
)

func PlatformProcSettings(cmd *exec.Cmd) {}

// KillTree only kills the immediate process on platforms without process groups.
func KillTree(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
