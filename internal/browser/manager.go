package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
)

// Manager starts, reuses, restarts and stops browsers by debug port.
// Launch failures are final; nothing here retries a launch.
type Manager struct {
	records  recordStore
	launcher Launcher
	procs    ProcessTable
}

// NewManager keeps instance records under runDir.
func NewManager(runDir string, l Launcher, procs ProcessTable) *Manager {
	if l == nil {
		l = RodLauncher{}
	}
	if procs == nil {
		procs = OSProcesses{}
	}
	return &Manager{records: recordStore{dir: runDir}, launcher: l, procs: procs}
}

// EnsureRunning returns a browser on spec.Port using spec.ProfilePath.
// A live matching instance is reused; a stale record is cleared; a live
// instance with another profile or headless mode is restarted. Remote
// hosts are returned as-is without any process management.
func (m *Manager) EnsureRunning(ctx context.Context, spec Spec) (*Instance, error) {
	if !IsLocalHost(spec.Host) {
		logging.Browser("remote host %s:%d, lifecycle management skipped", spec.Host, spec.Port)
		return &Instance{Host: spec.Host, Port: spec.Port, ProfilePath: spec.ProfilePath, Headless: spec.Headless, Remote: true}, nil
	}
	if err := m.checkSpec(spec); err != nil {
		return nil, err
	}

	rec, err := m.records.read(spec.Port)
	if err != nil {
		return nil, fault.Wrap(fault.KindLaunch, "ensure_running", err)
	}
	if rec != nil {
		if m.procs.Alive(rec.PID) && m.procs.PortOpen(spec.Host, spec.Port) {
			if rec.Matches(spec) {
				logging.BrowserDebug("reusing pid %d on port %d", rec.PID, spec.Port)
				return rec, nil
			}
			logging.Browser("port %d runs pid %d with profile=%s headless=%v; restarting for profile=%s headless=%v",
				spec.Port, rec.PID, rec.ProfilePath, rec.Headless, spec.ProfilePath, spec.Headless)
			if err := m.stop(ctx, rec); err != nil {
				return nil, err
			}
		} else {
			logging.BrowserWarn("clearing stale record for port %d (pid %d)", spec.Port, rec.PID)
			if err := m.records.remove(spec.Port); err != nil {
				return nil, fault.Wrap(fault.KindLaunch, "ensure_running", err)
			}
		}
	}

	if m.procs.PortOpen(spec.Host, spec.Port) {
		return nil, &fault.Error{
			Kind:   fault.KindLaunch,
			Step:   "ensure_running",
			Target: fmt.Sprintf("port %d", spec.Port),
			Err:    fmt.Errorf("port is in use by a process this tool did not start"),
		}
	}
	return m.launch(ctx, spec)
}

// Restart stops whatever runs on spec.Port and launches spec fresh.
func (m *Manager) Restart(ctx context.Context, spec Spec) (*Instance, error) {
	if !IsLocalHost(spec.Host) {
		return nil, fault.New(fault.KindLaunch, "restart", "cannot restart a browser on remote host %s", spec.Host)
	}
	if err := m.checkSpec(spec); err != nil {
		return nil, err
	}
	if err := m.Kill(ctx, spec.Port); err != nil {
		return nil, err
	}
	if m.procs.PortOpen(spec.Host, spec.Port) {
		return nil, &fault.Error{
			Kind:   fault.KindLaunch,
			Step:   "restart",
			Target: fmt.Sprintf("port %d", spec.Port),
			Err:    fmt.Errorf("port is still in use after stopping the recorded browser"),
		}
	}
	return m.launch(ctx, spec)
}

// Kill stops the recorded browser on port. No record is not an error.
func (m *Manager) Kill(ctx context.Context, port int) error {
	rec, err := m.records.read(port)
	if err != nil {
		return fault.Wrap(fault.KindLaunch, "kill", err)
	}
	if rec == nil {
		logging.BrowserDebug("kill: no browser recorded on port %d", port)
		return nil
	}
	return m.stop(ctx, rec)
}

// Status returns the recorded instance on port and whether it is alive.
func (m *Manager) Status(port int) (*Instance, bool, error) {
	rec, err := m.records.read(port)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec, m.procs.Alive(rec.PID) && m.procs.PortOpen(rec.Host, port), nil
}

func (m *Manager) checkSpec(spec Spec) error {
	if spec.Port <= 0 || spec.Port > 65535 {
		return fault.New(fault.KindLaunch, "ensure_running", "invalid debug port %d", spec.Port)
	}
	if spec.ProfilePath == "" {
		return fault.New(fault.KindLaunch, "ensure_running", "empty profile path")
	}
	if err := os.MkdirAll(spec.ProfilePath, 0o700); err != nil {
		return fault.Wrap(fault.KindLaunch, "ensure_running", fmt.Errorf("profile path invalid: %w", err))
	}
	return nil
}

func (m *Manager) stop(ctx context.Context, rec *Instance) error {
	logging.Browser("stopping pid %d on port %d", rec.PID, rec.Port)
	if err := m.procs.Terminate(ctx, rec.PID); err != nil {
		return fault.Wrap(fault.KindLaunch, "stop", fmt.Errorf("terminate pid %d: %w", rec.PID, err))
	}
	if err := m.records.remove(rec.Port); err != nil {
		return fault.Wrap(fault.KindLaunch, "stop", err)
	}
	return nil
}

// slowLaunch is when a browser start is worth a warning.
const slowLaunch = 15 * time.Second

func (m *Manager) launch(ctx context.Context, spec Spec) (*Instance, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, fmt.Sprintf("launch port %d", spec.Port))
	launched, err := m.launcher.Launch(ctx, spec)
	timer.StopWithThreshold(slowLaunch)
	if err != nil {
		return nil, fault.Wrap(fault.KindLaunch, "launch", err)
	}
	inst := &Instance{
		Host:        spec.Host,
		Port:        spec.Port,
		ProfilePath: spec.ProfilePath,
		Headless:    spec.Headless,
		PID:         launched.PID,
		ControlURL:  launched.ControlURL,
		StartedAt:   time.Now().UTC(),
		Launched:    true,
	}
	if err := m.records.write(inst); err != nil {
		return nil, fault.Wrap(fault.KindLaunch, "launch", fmt.Errorf("record instance: %w", err))
	}
	logging.Browser("launched pid %d on port %d (headless=%v, profile=%s)", inst.PID, inst.Port, inst.Headless, inst.ProfilePath)
	return inst, nil
}
