//go:build windows

package browser

import (
	"context"
	"os"
)

// Alive cannot be answered cheaply on Windows; callers pair it with
// PortOpen, which decides.
func (OSProcesses) Alive(pid int) bool {
	return pid > 0
}

// Terminate kills the process outright.
func (OSProcesses) Terminate(ctx context.Context, pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
