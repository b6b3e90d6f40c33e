//go:build !windows

package service

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcAttr configures the process attributes for creating a new process group
func configureProcAttr(cmd *exec.Cmd) {
	// Run the router in its own process group so the whole group
	// (parent + children) can be terminated together later.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup sends a signal to an entire process group to terminate parent and all children
func killProcessGroup(pid int, sig syscall.Signal) error {
	// Negative PID addresses the entire process group.
	if err := syscall.Kill(-pid, sig); err != nil {
		// Fall back to the individual process if the group is already gone.
		if err2 := syscall.Kill(pid, sig); err2 != nil {
			return fmt.Errorf("failed to signal process group -%d: %v, also failed to signal process %d: %v", pid, err, pid, err2)
		}
	}
	return nil
}
