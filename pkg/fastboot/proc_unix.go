//go:build unix

package fastboot

import (
	"os/exec"
	"syscall"
)

// detach puts the tool in its own process group, so a terminal Ctrl-C only
// reaches us and never kills a command in flight.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signaled(ee *exec.ExitError) bool {
	ws, ok := ee.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}
