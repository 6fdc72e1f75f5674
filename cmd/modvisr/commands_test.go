//go:build !windows

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/modvisr/internal/config"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/history/sqlite"
	"github.com/loykin/modvisr/internal/logger"
	"github.com/loykin/modvisr/internal/manager"
	"github.com/loykin/modvisr/pkg/client"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

type layout struct {
	dir     string
	bundled string
	system  string
}

func newLayout(t *testing.T) layout {
	t.Helper()
	dir := t.TempDir()
	l := layout{dir: dir, bundled: filepath.Join(dir, "bundled"), system: filepath.Join(dir, "bin")}
	writeScript(t, filepath.Join(l.bundled, "aw-server", "aw-server"), "exec sleep 30")
	writeScript(t, filepath.Join(l.system, "aw-watcher-afk"), "exec sleep 30")
	writeScript(t, filepath.Join(l.system, "aw-watcher-window"), "exec sleep 30")
	return l
}

func (l layout) config(t *testing.T, extra string) string {
	t.Helper()
	p := filepath.Join(l.dir, "modvisr.toml")
	body := fmt.Sprintf("[discovery]\nbundled_dir = %q\nsearch_path = [%q]\n%s", l.bundled, l.system, extra)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestHelpMentionsModvisr(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "modvisr")
	assert.Contains(t, out, "--autostart-modules")
}

func TestListPrintsBundledFirst(t *testing.T) {
	l := newLayout(t)
	cfg := l.config(t, "")

	out, err := execute(t, "list", "--config", cfg)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "aw-server")
	assert.Contains(t, lines[1], "bundled")
	assert.Contains(t, lines[2], "system")

	out, err = execute(t, "list", "--json", "--config", cfg)
	require.NoError(t, err)
	var mods []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &mods))
	require.Len(t, mods, 3)
	assert.Equal(t, "aw-server", mods[0]["name"])
}

func TestWhich(t *testing.T) {
	l := newLayout(t)
	cfg := l.config(t, "")

	out, err := execute(t, "which", "aw-watcher-afk", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.system, "aw-watcher-afk"), strings.TrimSpace(out))

	_, err = execute(t, "which", "aw-watcher-nope", "--config", cfg)
	assert.Error(t, err)
}

func TestFlagsOverrideConfig(t *testing.T) {
	l := newLayout(t)
	path := l.config(t, "autostart = [\"aw-server\"]\n")

	root := buildRoot()
	require.NoError(t, root.ParseFlags([]string{"--testing", "--autostart-modules", "aw-watcher-afk, aw-watcher-window"}))
	cfg, err := loadConfig(root, path)
	require.NoError(t, err)
	assert.True(t, cfg.Testing)
	assert.Equal(t, []string{"aw-watcher-afk", "aw-watcher-window"}, cfg.Autostart)

	root = buildRoot()
	require.NoError(t, root.ParseFlags(nil))
	cfg, err = loadConfig(root, path)
	require.NoError(t, err)
	assert.False(t, cfg.Testing)
	assert.Equal(t, []string{"aw-server"}, cfg.Autostart)
}

func TestBadConfigFails(t *testing.T) {
	l := newLayout(t)
	cfg := l.config(t, "[log]\nformat = \"xml\"\n")
	_, err := execute(t, "list", "--config", cfg)
	assert.Error(t, err)
}

// startSupervisor runs the supervisor in the background and waits for
// autostart to finish.
func startSupervisor(t *testing.T, cfg *config.Config) (*manager.Manager, net.Addr, context.CancelFunc, <-chan error) {
	t.Helper()
	type readyInfo struct {
		mgr  *manager.Manager
		addr net.Addr
	}
	readyCh := make(chan readyInfo, 1)
	s := &supervisor{
		cfg:    cfg,
		log:    logger.Discard(),
		reg:    prometheus.NewRegistry(),
		gather: prometheus.NewRegistry(),
		ready: func(mgr *manager.Manager, addr net.Addr) {
			readyCh <- readyInfo{mgr, addr}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	select {
	case r := <-readyCh:
		return r.mgr, r.addr, cancel, done
	case err := <-done:
		cancel()
		t.Fatalf("supervisor exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("supervisor did not become ready")
	}
	return nil, nil, cancel, done
}

func TestSupervisorRunAutostartsAndRecordsHistory(t *testing.T) {
	l := newLayout(t)
	dbPath := filepath.Join(l.dir, "history.db")
	path := l.config(t, fmt.Sprintf(
		"autostart = [\"aw-watcher-afk\", \"aw-server\", \"aw-watcher-gone\"]\nstop_timeout = \"2s\"\n[history]\ndsn = %q\n[server]\nlisten = \"127.0.0.1:0\"\n",
		"sqlite://"+dbPath))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	mgr, addr, cancel, done := startSupervisor(t, cfg)
	require.NotNil(t, addr)
	assert.True(t, mgr.Running("aw-server"))
	assert.True(t, mgr.Running("aw-watcher-afk"))
	assert.False(t, mgr.Running("aw-watcher-window"))

	c := client.New(client.Config{BaseURL: "http://" + addr.String() + "/api", Logger: logger.Discard()})
	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "aw-server", list[0].Name)
	assert.True(t, list[0].Running)

	out, err := execute(t, "status", "aw-watcher-afk", "--json", "--api-url", "http://"+addr.String()+"/api")
	require.NoError(t, err)
	var sts []client.ModuleStatus
	require.NoError(t, json.Unmarshal([]byte(out), &sts))
	require.Len(t, sts, 1)
	assert.Equal(t, "running", sts[0].State)

	_, err = execute(t, "toggle", "aw-watcher-window", "--api-url", "http://"+addr.String()+"/api")
	require.NoError(t, err)
	assert.True(t, mgr.Running("aw-watcher-window"))

	_, err = execute(t, "stop", "aw-watcher-nope", "--api-url", "http://"+addr.String()+"/api")
	assert.ErrorIs(t, err, client.ErrNotFound)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
	for _, st := range mgr.List() {
		assert.False(t, st.Running, st.Name)
	}

	sink, err := sqlite.New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	for _, name := range []string{"aw-server", "aw-watcher-afk", "aw-watcher-window"} {
		n, err := sink.Count(context.Background(), name, history.EventStart)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}
	n, err := sink.Count(context.Background(), "aw-server", history.EventStop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSupervisorListenErrorIsReturned(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	l := newLayout(t)
	path := l.config(t, fmt.Sprintf("autostart = []\n[server]\nlisten = %q\n", ln.Addr().String()))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	s := &supervisor{cfg: cfg, log: logger.Discard(), reg: prometheus.NewRegistry(), gather: prometheus.NewRegistry()}
	err = s.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
