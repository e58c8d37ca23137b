//go:build linux

package engine

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// waitStage waits for the direct child, calls exited, kills whatever is left
// of its process group and only then reaps the child. Until it is reaped the
// child keeps its pid, so the group id cannot be reused by another process.
func waitStage(cmd *exec.Cmd, exited func()) error {
	pid := cmd.Process.Pid
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			break
		}
	}
	exited()
	killProcessGroup(pid)
	return cmd.Wait()
}
