//go:build !unix

package fastboot

import "os/exec"

func detach(*exec.Cmd) {}

func signaled(*exec.ExitError) bool { return false }
