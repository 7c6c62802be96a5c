//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// terminate sends SIGTERM to the node's process group so children spawned by
// a wrapper (cargo run, sh -c) receive it too.
func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		// not a group leader (e.g. Setpgid refused); fall back to the pid
		return syscall.Kill(pid, sig)
	}
	return nil
}

// pidAlive returns true if a process with pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
