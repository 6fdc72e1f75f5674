//go:build !windows

package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) snapshot() []history.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Event(nil), r.events...)
}

func (r *recordingSink) has(name string, t history.EventType) bool {
	for _, e := range r.snapshot() {
		if e.Record.Name == name && e.Type == t {
			return true
		}
	}
	return false
}

func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func longRunning(t *testing.T, dir, name string) discovery.Module {
	return discovery.Module{Name: name, Path: script(t, dir, name, "exec sleep 30"), Origin: discovery.OriginBundled}
}

func newTestManager(t *testing.T, opts Options, mods ...discovery.Module) (*Manager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts.Logger = logger.Discard()
	opts.Sinks = append(opts.Sinks, sink)
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}
	m := New(opts)
	require.NoError(t, m.Init(mods))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, sink
}

func TestInitTwice(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	assert.ErrorIs(t, m.Init(nil), ErrAlreadyInitialized)
}

func TestFindByNameBundledPrecedence(t *testing.T) {
	dir := t.TempDir()
	sys := discovery.Module{Name: "aw-server", Path: script(t, dir, "sys/aw-server", "exec sleep 30"), Origin: discovery.OriginSystem}
	bun := discovery.Module{Name: "aw-server", Path: script(t, dir, "bundle/aw-server", "exec sleep 30"), Origin: discovery.OriginBundled}
	m, _ := newTestManager(t, Options{}, sys, bun)

	mm, err := m.FindByName("aw-server")
	require.NoError(t, err)
	assert.Equal(t, bun.Path, mm.Module().Path)

	require.NoError(t, m.Start("aw-server"))
	list := m.List()
	require.Len(t, list, 2)
	assert.False(t, list[0].Running, "system copy must not be started")
	assert.True(t, list[1].Running)
	assert.Greater(t, list[1].PID, 0)
}

func TestFindByNameFirstSystemMatch(t *testing.T) {
	dir := t.TempDir()
	a := discovery.Module{Name: "aw-watcher-afk", Path: script(t, dir, "a/aw-watcher-afk", "exit 0"), Origin: discovery.OriginSystem}
	b := discovery.Module{Name: "aw-watcher-afk", Path: script(t, dir, "b/aw-watcher-afk", "exit 0"), Origin: discovery.OriginSystem}
	m, _ := newTestManager(t, Options{}, a, b)

	mm, err := m.FindByName("aw-watcher-afk")
	require.NoError(t, err)
	assert.Equal(t, a.Path, mm.Module().Path)

	_, err = m.FindByName("aw-watcher-window")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartUnknownModule(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	assert.ErrorIs(t, m.Start("aw-watcher-missing"), ErrNotFound)
	assert.ErrorIs(t, m.Stop("aw-watcher-missing"), ErrNotFound)
	assert.ErrorIs(t, m.Toggle("aw-watcher-missing"), ErrNotFound)
	assert.False(t, m.Running("aw-watcher-missing"))
	_, err := m.Status("aw-watcher-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartTwiceIsRejected(t *testing.T) {
	mod := longRunning(t, t.TempDir(), "aw-server")
	m, sink := newTestManager(t, Options{}, mod)

	require.NoError(t, m.Start("aw-server"))
	pid := m.RunningPIDs()["aw-server"]
	assert.ErrorIs(t, m.Start("aw-server"), ErrAlreadyRunning)
	assert.Equal(t, pid, m.RunningPIDs()["aw-server"])
	assert.True(t, sink.has("aw-server", history.EventStart))
}

func TestStopIsIdempotent(t *testing.T) {
	mod := longRunning(t, t.TempDir(), "aw-watcher-window")
	m, sink := newTestManager(t, Options{}, mod)

	assert.NoError(t, m.Stop("aw-watcher-window"))
	assert.False(t, m.Running("aw-watcher-window"))

	require.NoError(t, m.Start("aw-watcher-window"))
	require.True(t, m.Running("aw-watcher-window"))
	require.NoError(t, m.Stop("aw-watcher-window"))
	assert.False(t, m.Running("aw-watcher-window"))
	assert.Empty(t, m.RunningPIDs())
	assert.True(t, sink.has("aw-watcher-window", history.EventStop))

	assert.NoError(t, m.Stop("aw-watcher-window"))
	assert.False(t, m.Running("aw-watcher-window"))
}

func TestToggleTwiceRestoresState(t *testing.T) {
	mod := longRunning(t, t.TempDir(), "aw-watcher-afk")
	m, _ := newTestManager(t, Options{}, mod)

	require.NoError(t, m.Toggle("aw-watcher-afk"))
	assert.True(t, m.Running("aw-watcher-afk"))
	require.NoError(t, m.Toggle("aw-watcher-afk"))
	assert.False(t, m.Running("aw-watcher-afk"))

	require.NoError(t, m.Start("aw-watcher-afk"))
	require.NoError(t, m.Toggle("aw-watcher-afk"))
	require.NoError(t, m.Toggle("aw-watcher-afk"))
	assert.True(t, m.Running("aw-watcher-afk"))
}

func TestExitIsObservedWithoutRestart(t *testing.T) {
	dir := t.TempDir()
	mod := discovery.Module{Name: "aw-watcher-input", Path: script(t, dir, "aw-watcher-input", "exit 3"), Origin: discovery.OriginSystem}
	m, sink := newTestManager(t, Options{}, mod)

	require.NoError(t, m.Start("aw-watcher-input"))
	require.Eventually(t, func() bool { return !m.Running("aw-watcher-input") }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return sink.has("aw-watcher-input", history.EventExit) }, 5*time.Second, 20*time.Millisecond)

	st, err := m.Status("aw-watcher-input")
	require.NoError(t, err)
	assert.Equal(t, 3, st.ExitCode)
	assert.Equal(t, "stopped", st.State)
	assert.Zero(t, st.PID)

	// no automatic restart
	time.Sleep(200 * time.Millisecond)
	assert.False(t, m.Running("aw-watcher-input"))

	// a later start is a new run
	require.NoError(t, m.Start("aw-watcher-input"))
}

func TestSpawnFailureLeavesModuleStopped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aw-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	mod := discovery.Module{Name: "aw-server", Path: path, Origin: discovery.OriginBundled}
	m, sink := newTestManager(t, Options{}, mod)
	// executable bit removed after discovery
	require.NoError(t, os.Chmod(path, 0o644))

	err := m.Start("aw-server")
	var serr *SpawnError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "aw-server", serr.Name)
	assert.Equal(t, path, serr.Path)
	assert.False(t, m.Running("aw-server"))
	assert.True(t, sink.has("aw-server", history.EventSpawnFailed))
}

func TestStopEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	mod := discovery.Module{
		Name:   "aw-watcher-stubborn",
		Path:   script(t, dir, "aw-watcher-stubborn", "trap '' TERM\nwhile :; do sleep 0.1; done"),
		Origin: discovery.OriginBundled,
	}
	m, _ := newTestManager(t, Options{StopTimeout: 300 * time.Millisecond}, mod)

	require.NoError(t, m.Start("aw-watcher-stubborn"))
	// give the shell time to install the trap
	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	require.NoError(t, m.Stop("aw-watcher-stubborn"))
	assert.False(t, m.Running("aw-watcher-stubborn"))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestTestingFlagIsPassed(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	mod := discovery.Module{
		Name:   "aw-server",
		Path:   script(t, dir, "aw-server", `echo "$*" > "`+out+`"`),
		Origin: discovery.OriginBundled,
	}
	m, _ := newTestManager(t, Options{Testing: true}, mod)

	require.NoError(t, m.Start("aw-server"))
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "--testing"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestShutdownStopsEverything(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, Options{},
		longRunning(t, dir, "aw-server"),
		longRunning(t, dir, "aw-watcher-afk"),
	)
	require.NoError(t, m.Start("aw-server"))
	require.NoError(t, m.Start("aw-watcher-afk"))
	require.Len(t, m.RunningPIDs(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.False(t, m.Running("aw-server"))
	assert.False(t, m.Running("aw-watcher-afk"))
	assert.ErrorIs(t, m.Start("aw-server"), ErrShuttingDown)
	assert.ErrorIs(t, m.Init(nil), ErrShuttingDown)
}
