//go:build !unix

package jobrunner

import "os/exec"

// setSandboxAttrs is a no-op on non-Unix platforms, which lack
// process groups.
func setSandboxAttrs(cmd *exec.Cmd) {}

// interruptCmd kills cmd's single process directly, since non-Unix
// platforms in this build have no process-group primitive.
func interruptCmd(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
