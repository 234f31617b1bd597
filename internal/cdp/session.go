// Package cdp attaches workflows to browser tabs over the DevTools
// protocol. A Session is held by exactly one workflow and is always
// released, on success or failure, without stopping the browser.
package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"xhspilot/internal/automation"
	"xhspilot/internal/capture"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// Target is one browsing context reported by the browser.
type Target struct {
	ID   string
	Type string
	URL  string
}

// Page is an attached tab: the automation surface, its network events and
// site-data control.
type Page interface {
	automation.Page
	capture.Source
	// ClearSiteData drops cookies and local/session storage for origins.
	ClearSiteData(ctx context.Context, origins []string) error
}

// Conn is a control connection to one browser.
type Conn interface {
	Targets(ctx context.Context) ([]Target, error)
	Open(ctx context.Context, targetID string) (Page, error)
	Create(ctx context.Context, url string) (Page, string, error)
	// Close drops the connection and leaves the browser running.
	Close() error
}

// Dialer opens control connections.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// AttachOptions selects where a session attaches.
type AttachOptions struct {
	Host string
	Port int
	// ReuseExisting attaches to the first page whose URL starts with one of
	// Prefixes instead of opening a new tab.
	ReuseExisting bool
	Prefixes      []string
	// RequireExisting fails instead of opening a new tab when nothing
	// matches Prefixes.
	RequireExisting bool
	EntryURL        string
	Timeout         time.Duration
}

// Session is an attached tab owned by one workflow.
type Session struct {
	ID       string
	TargetID string
	Port     int
	Reused   bool
	Page     Page

	conn    Conn
	mgr     *Manager
	release sync.Once
}

// Release closes the connection and frees the port for the next attach.
// Safe to call more than once.
func (s *Session) Release() error {
	var err error
	s.release.Do(func() {
		err = s.conn.Close()
		s.mgr.unmark(s.Port, s.ID)
		logging.CDP("session %s released (port %d, target %s)", s.ID, s.Port, s.TargetID)
	})
	return err
}

// Manager hands out sessions, at most one active per port.
type Manager struct {
	dialer Dialer

	mu     sync.Mutex
	active map[int]string
}

// NewManager returns a manager dialing through d.
func NewManager(d Dialer) *Manager {
	if d == nil {
		d = RodDialer{}
	}
	return &Manager{dialer: d, active: make(map[int]string)}
}

// Active reports whether a session currently holds port.
func (m *Manager) Active(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[port]
	return ok
}

func (m *Manager) mark(port int, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.active[port]; ok {
		return &fault.Error{
			Kind:   fault.KindInstanceBusy,
			Step:   "attach",
			Target: fmt.Sprintf("port %d", port),
			Err:    fmt.Errorf("session %s is attached", holder),
		}
	}
	m.active[port] = id
	return nil
}

func (m *Manager) unmark(port int, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[port] == id {
		delete(m.active, port)
	}
}

// Attach connects to the browser on opts.Host:opts.Port and returns a
// session on a reused or new tab. Connection failures surface as
// ConnectionError without retry.
func (m *Manager) Attach(ctx context.Context, opts AttachOptions) (_ *Session, err error) {
	id := uuid.NewString()
	if err := m.mark(opts.Port, id); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.unmark(opts.Port, id)
		}
	}()

	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := m.dialer.Dial(dctx, opts.Host, opts.Port)
	if err != nil {
		return nil, &fault.Error{
			Kind:   fault.KindConnection,
			Step:   "attach",
			Target: fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Err:    err,
		}
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	sess := &Session{ID: id, Port: opts.Port, conn: conn, mgr: m}
	if opts.ReuseExisting || opts.RequireExisting {
		targets, err := conn.Targets(dctx)
		if err != nil {
			return nil, fault.Wrap(fault.KindConnection, "attach", fmt.Errorf("list targets: %w", err))
		}
		if t, ok := SelectTarget(targets, opts.Prefixes); ok {
			page, err := conn.Open(dctx, t.ID)
			if err != nil {
				return nil, fault.Wrap(fault.KindConnection, "attach", fmt.Errorf("attach target %s: %w", t.ID, err))
			}
			sess.TargetID, sess.Page, sess.Reused = t.ID, page, true
			logging.CDP("session %s attached to existing tab %s (%s)", id, t.ID, t.URL)
			return sess, nil
		}
		if opts.RequireExisting {
			return nil, fault.New(fault.KindValidation, "attach", "no open tab under %s", strings.Join(opts.Prefixes, ", "))
		}
	}

	page, targetID, err := conn.Create(dctx, opts.EntryURL)
	if err != nil {
		return nil, fault.Wrap(fault.KindConnection, "attach", fmt.Errorf("create target: %w", err))
	}
	sess.TargetID, sess.Page = targetID, page
	logging.CDP("session %s opened tab %s at %s", id, targetID, opts.EntryURL)
	return sess, nil
}

// SelectTarget returns the first page target whose URL starts with one of
// prefixes.
func SelectTarget(targets []Target, prefixes []string) (Target, bool) {
	for _, t := range targets {
		if t.Type != "" && t.Type != "page" {
			continue
		}
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(t.URL, p) {
				return t, true
			}
		}
	}
	return Target{}, false
}
