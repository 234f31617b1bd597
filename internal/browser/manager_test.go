package browser

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhspilot/internal/fault"
)

type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	calls   []Spec
	err     error
	procs   *fakeProcs
}

func (f *fakeLauncher) Launch(ctx context.Context, spec Spec) (*Launched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spec)
	if f.err != nil {
		return nil, f.err
	}
	f.nextPID++
	pid := 1000 + f.nextPID
	f.procs.start(pid, spec.Port)
	return &Launched{PID: pid, ControlURL: "ws://127.0.0.1/devtools/browser/x"}, nil
}

type fakeProcs struct {
	mu         sync.Mutex
	alive      map[int]bool
	open       map[int]bool
	terminated []int
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{alive: map[int]bool{}, open: map[int]bool{}}
}

func (f *fakeProcs) start(pid, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = true
	f.open[port] = true
}

func (f *fakeProcs) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProcs) Terminate(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	delete(f.alive, pid)
	// Closing the port is what the real browser does on exit.
	for port := range f.open {
		delete(f.open, port)
	}
	return nil
}

func (f *fakeProcs) PortOpen(host string, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[port]
}

func newTestManager(t *testing.T) (*Manager, *fakeLauncher, *fakeProcs, string) {
	t.Helper()
	dir := t.TempDir()
	procs := newFakeProcs()
	l := &fakeLauncher{procs: procs}
	return NewManager(filepath.Join(dir, "run"), l, procs), l, procs, dir
}

func spec(dir, profile string, headless bool) Spec {
	return Spec{Host: "127.0.0.1", Port: 9222, ProfilePath: filepath.Join(dir, "profiles", profile), Headless: headless}
}

func TestEnsureRunning_LaunchesAndRecords(t *testing.T) {
	m, l, _, dir := newTestManager(t)
	ctx := context.Background()

	inst, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)
	assert.True(t, inst.Launched)
	assert.Equal(t, 1001, inst.PID)
	assert.DirExists(t, inst.ProfilePath)
	require.Len(t, l.calls, 1)

	rec, alive, err := m.Status(9222)
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, 1001, rec.PID)
}

func TestEnsureRunning_ReusesMatchingInstance(t *testing.T) {
	m, l, _, dir := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)
	inst, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)

	assert.False(t, inst.Launched)
	assert.Equal(t, 1001, inst.PID)
	assert.Len(t, l.calls, 1)
}

func TestEnsureRunning_ClearsStaleRecord(t *testing.T) {
	m, l, procs, dir := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)

	// The browser died without us noticing.
	procs.mu.Lock()
	procs.alive = map[int]bool{}
	procs.open = map[int]bool{}
	procs.mu.Unlock()

	inst, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)
	assert.True(t, inst.Launched)
	assert.Equal(t, 1002, inst.PID)
	assert.Len(t, l.calls, 2)
	assert.Empty(t, procs.terminated, "stale pid must not be signalled")
}

func TestEnsureRunning_RestartsOnMismatch(t *testing.T) {
	tests := []struct {
		name string
		next func(dir string) Spec
	}{
		{"other profile", func(dir string) Spec { return spec(dir, "b", true) }},
		{"windowed", func(dir string) Spec { return spec(dir, "a", false) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, l, procs, dir := newTestManager(t)
			ctx := context.Background()

			_, err := m.EnsureRunning(ctx, spec(dir, "a", true))
			require.NoError(t, err)
			inst, err := m.EnsureRunning(ctx, tt.next(dir))
			require.NoError(t, err)

			assert.Equal(t, []int{1001}, procs.terminated)
			assert.Equal(t, 1002, inst.PID)
			assert.Len(t, l.calls, 2)
			assert.Equal(t, tt.next(dir).ProfilePath, l.calls[1].ProfilePath)
		})
	}
}

func TestEnsureRunning_ForeignPortOwner(t *testing.T) {
	m, l, procs, dir := newTestManager(t)
	procs.open[9222] = true

	_, err := m.EnsureRunning(context.Background(), spec(dir, "a", true))
	require.Error(t, err)
	assert.Equal(t, fault.KindLaunch, fault.KindOf(err))
	assert.Empty(t, l.calls)
}

func TestEnsureRunning_LaunchFailureNotRetried(t *testing.T) {
	m, l, _, dir := newTestManager(t)
	l.err = errors.New("exec: chrome: not found")

	_, err := m.EnsureRunning(context.Background(), spec(dir, "a", true))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrLaunch)
	assert.Len(t, l.calls, 1)
}

func TestEnsureRunning_RemoteHostSkipsLifecycle(t *testing.T) {
	m, l, _, _ := newTestManager(t)

	inst, err := m.EnsureRunning(context.Background(), Spec{Host: "10.1.2.3", Port: 9222, ProfilePath: "/unused"})
	require.NoError(t, err)
	assert.True(t, inst.Remote)
	assert.Empty(t, l.calls)

	_, err = m.Restart(context.Background(), Spec{Host: "10.1.2.3", Port: 9222, ProfilePath: "/unused"})
	assert.Equal(t, fault.KindLaunch, fault.KindOf(err))
}

func TestEnsureRunning_InvalidSpec(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.EnsureRunning(context.Background(), Spec{Host: "127.0.0.1", Port: 0, ProfilePath: "/tmp/x"})
	assert.Equal(t, fault.KindLaunch, fault.KindOf(err))
	_, err = m.EnsureRunning(context.Background(), Spec{Host: "127.0.0.1", Port: 9222})
	assert.Equal(t, fault.KindLaunch, fault.KindOf(err))
}

func TestRestartAndKill(t *testing.T) {
	m, _, procs, dir := newTestManager(t)
	ctx := context.Background()

	_, err := m.EnsureRunning(ctx, spec(dir, "a", true))
	require.NoError(t, err)

	inst, err := m.Restart(ctx, spec(dir, "a", false))
	require.NoError(t, err)
	assert.False(t, inst.Headless)
	assert.Equal(t, []int{1001}, procs.terminated)

	require.NoError(t, m.Kill(ctx, 9222))
	assert.Equal(t, []int{1001, 1002}, procs.terminated)
	rec, _, err := m.Status(9222)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.NoError(t, m.Kill(ctx, 9222), "killing nothing is fine")
}

func TestIsLocalHost(t *testing.T) {
	for _, h := range []string{"127.0.0.1", "localhost", "::1", "", "LOCALHOST"} {
		assert.True(t, IsLocalHost(h), h)
	}
	for _, h := range []string{"192.168.1.10", "chrome.internal", "0.0.0.0"} {
		assert.False(t, IsLocalHost(h), h)
	}
}

func TestPortLocks(t *testing.T) {
	locks := NewPortLocks(t.TempDir())

	lease, err := locks.Acquire(9222)
	require.NoError(t, err)
	assert.Equal(t, 9222, lease.Port())

	_, err = locks.Acquire(9222)
	require.Error(t, err)
	assert.Equal(t, fault.KindInstanceBusy, fault.KindOf(err))

	other, err := locks.Acquire(9333)
	require.NoError(t, err, "distinct ports do not contend")
	other.Release()

	lease.Release()
	lease.Release()

	again, err := locks.Acquire(9222)
	require.NoError(t, err)
	again.Release()
}
