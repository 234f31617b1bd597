//go:build !windows

package browser

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Alive probes pid with signal 0.
func (OSProcesses) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM, then SIGKILL once the grace period runs out.
func (p OSProcesses) Terminate(ctx context.Context, pid int) error {
	if !p.Alive(pid) {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	deadline := time.Now().Add(p.grace())
	for time.Now().Before(deadline) {
		if !p.Alive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
