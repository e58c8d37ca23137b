//go:build unix && !linux

package engine

import (
	"os/exec"
	"syscall"
)

func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// waitStage reaps the direct child, calls exited and kills whatever is left
// of its process group.
func waitStage(cmd *exec.Cmd, exited func()) error {
	err := cmd.Wait()
	exited()
	killProcessGroup(cmd.Process.Pid)
	return err
}
