//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the node in a new process group for group signaling.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
