package browser

import (
	"context"
	"net"
	"strconv"
	"time"
)

// ProcessTable answers questions about OS processes and ports.
type ProcessTable interface {
	Alive(pid int) bool
	Terminate(ctx context.Context, pid int) error
	PortOpen(host string, port int) bool
}

// OSProcesses is the ProcessTable of the running system.
type OSProcesses struct {
	// Grace is how long Terminate waits before force-killing.
	Grace time.Duration
}

// PortOpen reports whether something accepts TCP connections on host:port.
func (OSProcesses) PortOpen(host string, port int) bool {
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p OSProcesses) grace() time.Duration {
	if p.Grace <= 0 {
		return 5 * time.Second
	}
	return p.Grace
}
