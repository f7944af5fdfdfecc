//go:build unix

package jobrunner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSandboxAttrs places cmd in its own process group so that
// interruptCmd can terminate it and any children it spawned as a
// single unit, instead of leaving orphans behind on cancellation.
func setSandboxAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// interruptCmd sends SIGTERM to every process in cmd's group.
func interruptCmd(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}
