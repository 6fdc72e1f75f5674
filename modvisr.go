package modvisr

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/modvisr/internal/config"
	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/history/factory"
	"github.com/loykin/modvisr/internal/manager"
	"github.com/loykin/modvisr/internal/metrics"
	"github.com/loykin/modvisr/internal/process"
	iapi "github.com/loykin/modvisr/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Module = discovery.Module

type Origin = discovery.Origin

const (
	OriginBundled = discovery.OriginBundled
	OriginSystem  = discovery.OriginSystem
)

type DiscoverOptions = discovery.Options

type Matcher = discovery.Matcher

type Options = manager.Options

type ModuleStatus = manager.ModuleStatus

type StartResult = manager.StartResult

type SpawnError = manager.SpawnError

type OutputConfig = process.OutputConfig

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.Config

var (
	ErrNotFound           = manager.ErrNotFound
	ErrAlreadyRunning     = manager.ErrAlreadyRunning
	ErrAlreadyInitialized = manager.ErrAlreadyInitialized
	ErrShuttingDown       = manager.ErrShuttingDown
	ErrExecutableNotFound = discovery.ErrExecutableNotFound
)

// Discover scans the bundled tree and the search path for modules.
func Discover(ctx context.Context, opts DiscoverOptions) ([]Module, error) {
	return discovery.Discover(ctx, opts)
}

// FindExecutable returns the first executable named name in dirs.
func FindExecutable(ctx context.Context, name string, dirs []string) (string, error) {
	return discovery.FindExecutable(ctx, name, dirs)
}

// SearchPathFromEnv returns the directories of $PATH.
func SearchPathFromEnv() []string { return discovery.SearchPathFromEnv() }

// ParseModuleList splits a comma separated module list.
func ParseModuleList(s string) []string { return manager.ParseModuleList(s) }

// LoadConfig reads a TOML config file (optional when path is empty).
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinkFromDSN builds a history sink for sqlite, postgres,
// clickhouse or opensearch DSNs.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Manager is a thin facade over the internal module manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New(opts Options) *Manager { return &Manager{inner: manager.New(opts)} }

func (m *Manager) Init(mods []Module) error                { return m.inner.Init(mods) }
func (m *Manager) Start(name string) error                 { return m.inner.Start(name) }
func (m *Manager) Stop(name string) error                  { return m.inner.Stop(name) }
func (m *Manager) Toggle(name string) error                { return m.inner.Toggle(name) }
func (m *Manager) Running(name string) bool                { return m.inner.Running(name) }
func (m *Manager) Status(name string) (ModuleStatus, error) { return m.inner.Status(name) }
func (m *Manager) List() []ModuleStatus                    { return m.inner.List() }
func (m *Manager) Shutdown(ctx context.Context) error      { return m.inner.Shutdown(ctx) }
func (m *Manager) Autostart(ctx context.Context, names []string) []StartResult {
	return m.inner.Autostart(ctx, names)
}

// FindByName resolves name with bundled precedence.
func (m *Manager) FindByName(name string) (Module, error) {
	mm, err := m.inner.FindByName(name)
	if err != nil {
		return Module{}, err
	}
	return mm.Module(), nil
}

// NewHTTPRouter returns an http.Handler exposing the module API under basePath.
func NewHTTPRouter(m *Manager, basePath string) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// RegisterMetrics registers the modvisr collectors, including per-module
// resource usage for m when non-nil.
func RegisterMetrics(r prometheus.Registerer, m *Manager) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return r.Register(metrics.NewResourceCollector(m.inner.RunningPIDs))
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }
