package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/process"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before killing.
const DefaultStopTimeout = 5 * time.Second

// DefaultServerMarker selects the modules started in the first autostart phase.
const DefaultServerMarker = "aw-server"

// Options configures a Manager.
type Options struct {
	Testing      bool     // pass --testing to every module
	Env          []string // module environment; empty inherits the supervisor's
	ServerMarker string
	StopTimeout  time.Duration
	Output       process.OutputConfig
	Logger       *slog.Logger
	Sinks        []history.Sink
}

// ModuleStatus is the outward view of one registered module.
type ModuleStatus struct {
	Name      string    `json:"name"`
	Origin    string    `json:"origin"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitCode  int       `json:"exit_code"`
}

// Manager owns the registry snapshot and one ManagedModule per entry.
type Manager struct {
	opts Options
	log  *slog.Logger

	mu          sync.RWMutex
	modules     []*ManagedModule
	initialized bool
	closing     bool
}

func New(opts Options) *Manager {
	if opts.ServerMarker == "" {
		opts.ServerMarker = DefaultServerMarker
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts, log: opts.Logger}
}

// Init installs the discovered modules. It can be called once.
func (m *Manager) Init(mods []discovery.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	if m.initialized {
		return ErrAlreadyInitialized
	}
	cfg := moduleConfig{
		testing:     m.opts.Testing,
		env:         append([]string(nil), m.opts.Env...),
		stopTimeout: m.opts.StopTimeout,
		output:      m.opts.Output,
		log:         m.log,
		sinks:       append([]history.Sink(nil), m.opts.Sinks...),
	}
	m.modules = make([]*ManagedModule, 0, len(mods))
	for _, mod := range mods {
		m.modules = append(m.modules, newManagedModule(mod, cfg))
	}
	m.initialized = true
	m.log.Info("module registry initialized", "modules", len(mods))
	return nil
}

// Modules returns the registered modules in discovery order.
func (m *Manager) Modules() []*ManagedModule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ManagedModule(nil), m.modules...)
}

// FindByName returns the bundled module with that name if any, else the
// first system module with it.
func (m *Manager) FindByName(name string) (*ManagedModule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var system *ManagedModule
	for _, mm := range m.modules {
		if mm.mod.Name != name {
			continue
		}
		if mm.mod.Origin == discovery.OriginBundled {
			return mm, nil
		}
		if system == nil {
			system = mm
		}
	}
	if system == nil {
		return nil, ErrNotFound
	}
	return system, nil
}

func (m *Manager) lookup(name string) (*ManagedModule, error) {
	m.mu.RLock()
	closing := m.closing
	m.mu.RUnlock()
	if closing {
		return nil, ErrShuttingDown
	}
	mm, err := m.FindByName(name)
	if err != nil {
		m.log.Error("module not found", "module", name)
		return nil, err
	}
	return mm, nil
}

// Start launches the named module.
func (m *Manager) Start(name string) error {
	mm, err := m.lookup(name)
	if err != nil {
		return err
	}
	err = mm.Start()
	if errors.Is(err, ErrAlreadyRunning) {
		mm.log.Error("module already running", "pid", mm.PID())
	}
	return err
}

// Stop terminates the named module. Stopping a module that is not running
// only logs a warning.
func (m *Manager) Stop(name string) error {
	mm, err := m.lookup(name)
	if err != nil {
		return err
	}
	err = mm.Stop()
	if errors.Is(err, ErrNotRunning) {
		mm.log.Warn("stop requested for a module that is not running")
		return nil
	}
	return err
}

// Toggle stops the named module if it is running and starts it otherwise.
func (m *Manager) Toggle(name string) error {
	mm, err := m.lookup(name)
	if err != nil {
		return err
	}
	return mm.Toggle()
}

// Running reports whether the named module is running. Unknown names are
// not running.
func (m *Manager) Running(name string) bool {
	mm, err := m.FindByName(name)
	if err != nil {
		return false
	}
	return mm.Running()
}

// Status returns the status of the module FindByName resolves to.
func (m *Manager) Status(name string) (ModuleStatus, error) {
	mm, err := m.FindByName(name)
	if err != nil {
		return ModuleStatus{}, err
	}
	return statusOf(mm), nil
}

// List returns the status of every registered module in discovery order.
func (m *Manager) List() []ModuleStatus {
	mods := m.Modules()
	out := make([]ModuleStatus, 0, len(mods))
	for _, mm := range mods {
		out = append(out, statusOf(mm))
	}
	return out
}

func statusOf(mm *ManagedModule) ModuleStatus {
	state := mm.State()
	st := mm.Status()
	ms := ModuleStatus{
		Name:      mm.mod.Name,
		Origin:    mm.mod.Origin.String(),
		Path:      mm.mod.Path,
		State:     state.String(),
		Running:   state == StateRunning,
		StartedAt: st.StartedAt,
		StoppedAt: st.StoppedAt,
		ExitCode:  st.ExitCode,
	}
	if ms.Running {
		ms.PID = st.PID
	}
	return ms
}

// RunningPIDs maps running module names to their pids.
func (m *Manager) RunningPIDs() map[string]int32 {
	out := make(map[string]int32)
	for _, mm := range m.Modules() {
		if pid := mm.PID(); pid > 0 {
			out[mm.mod.Name] = int32(pid)
		}
	}
	return out
}

// Shutdown stops every running module and ends the per-module loops. It
// returns ctx.Err() if ctx ends first; the remaining stops continue in the
// background.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	mods := append([]*ManagedModule(nil), m.modules...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, mm := range mods {
		wg.Add(1)
		go func(mm *ManagedModule) {
			defer wg.Done()
			if err := mm.Shutdown(); err != nil {
				mm.log.Error("module shutdown failed", "error", err)
			}
		}(mm)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("all modules shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
