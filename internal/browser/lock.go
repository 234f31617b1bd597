package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// PortLocks serializes automation runs per debug port. Within a process
// the held set decides; across processes an exclusive file lock does.
type PortLocks struct {
	dir string

	mu   sync.Mutex
	held map[int]*os.File
}

// NewPortLocks keeps lock files under dir.
func NewPortLocks(dir string) *PortLocks {
	return &PortLocks{dir: dir, held: make(map[int]*os.File)}
}

// Lease is a held port lock.
type Lease struct {
	port    int
	locks   *PortLocks
	release sync.Once
}

// Port returns the locked port.
func (l *Lease) Port() int { return l.port }

// Release gives the port back. Safe to call more than once.
func (l *Lease) Release() {
	l.release.Do(func() { l.locks.release(l.port) })
}

// Acquire takes the lock for port or fails fast with InstanceBusy.
func (p *PortLocks) Acquire(port int) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[port]; ok {
		return nil, busy(port, "held by this process")
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(p.dir, fmt.Sprintf("port-%d.lock", port)), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, busy(port, "held by another process")
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	p.held[port] = f
	logging.BrowserDebug("port %d locked", port)
	return &Lease{port: port, locks: p}, nil
}

func (p *PortLocks) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.held[port]
	if !ok {
		return
	}
	delete(p.held, port)
	_ = unlockFile(f)
	f.Close()
	logging.BrowserDebug("port %d released", port)
}

func busy(port int, why string) error {
	return &fault.Error{
		Kind:   fault.KindInstanceBusy,
		Step:   "lock",
		Target: fmt.Sprintf("port %d", port),
		Err:    fmt.Errorf("another automation run is active (%s)", why),
	}
}
