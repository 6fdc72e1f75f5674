package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/history"
	"github.com/loykin/modvisr/internal/metrics"
	"github.com/loykin/modvisr/internal/process"
)

// State is the lifecycle state of a managed module.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionToggle
	actionExited
	actionShutdown
)

type command struct {
	action commandAction
	run    uint64 // actionExited: the run whose process ended
	reply  chan error
}

// moduleConfig is the part of the manager options every module needs.
type moduleConfig struct {
	testing     bool
	env         []string
	stopTimeout time.Duration
	output      process.OutputConfig
	log         *slog.Logger
	sinks       []history.Sink
}

// ManagedModule pairs a discovered module with the process of its current
// run. A single goroutine consumes the command channel and performs every
// state mutation; exit notifications are routed through the same channel.
//
// State Machine:
// Stopped -> Running -> Stopped
type ManagedModule struct {
	mod discovery.Module
	cfg moduleConfig
	log *slog.Logger

	cmds chan command
	done chan struct{}

	mu    sync.RWMutex // guards the fields below for readers outside the loop
	state State
	proc  *process.Process
	run   uint64
	last  process.Status
}

func newManagedModule(mod discovery.Module, cfg moduleConfig) *ManagedModule {
	mm := &ManagedModule{
		mod:   mod,
		cfg:   cfg,
		log:   cfg.log.With("module", mod.Name, "origin", mod.Origin.String(), "path", mod.Path),
		cmds:  make(chan command, 16),
		done:  make(chan struct{}),
		state: StateStopped,
	}
	metrics.SetCurrentState(mod.Name, StateStopped.String(), true)
	go mm.loop()
	return mm
}

// Module returns the immutable descriptor.
func (mm *ManagedModule) Module() discovery.Module { return mm.mod }

// Name returns the module name.
func (mm *ManagedModule) Name() string { return mm.mod.Name }

// State returns the current lifecycle state.
func (mm *ManagedModule) State() State {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.state
}

// Running reports whether the module is in the Running state.
func (mm *ManagedModule) Running() bool { return mm.State() == StateRunning }

// Status returns the current run's process status, or the last finished
// run's when stopped.
func (mm *ManagedModule) Status() process.Status {
	mm.mu.RLock()
	proc := mm.proc
	last := mm.last
	mm.mu.RUnlock()
	if proc != nil {
		return proc.Snapshot()
	}
	if last.Name == "" {
		last.Name = mm.mod.Name
	}
	return last
}

// PID returns the pid of the running process, or 0.
func (mm *ManagedModule) PID() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if mm.proc == nil {
		return 0
	}
	return mm.proc.Snapshot().PID
}

// Start launches the module. It fails with ErrAlreadyRunning when a run is
// active and with *SpawnError when the executable cannot be launched.
func (mm *ManagedModule) Start() error { return mm.send(actionStart) }

// Stop terminates the running process, waiting for it to exit. It returns
// ErrNotRunning when the module is stopped.
func (mm *ManagedModule) Stop() error { return mm.send(actionStop) }

// Toggle stops a running module and starts a stopped one.
func (mm *ManagedModule) Toggle() error { return mm.send(actionToggle) }

// Shutdown stops the module if running and ends its command loop.
func (mm *ManagedModule) Shutdown() error {
	err := mm.send(actionShutdown)
	if err == ErrShuttingDown {
		return nil
	}
	return err
}

func (mm *ManagedModule) send(action commandAction) error {
	reply := make(chan error, 1)
	select {
	case mm.cmds <- command{action: action, reply: reply}:
	case <-mm.done:
		return ErrShuttingDown
	}
	select {
	case err := <-reply:
		return err
	case <-mm.done:
		// shutdown replies before closing done
		select {
		case err := <-reply:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

func (mm *ManagedModule) loop() {
	defer close(mm.done)
	for cmd := range mm.cmds {
		var err error
		switch cmd.action {
		case actionStart:
			err = mm.handleStart()
		case actionStop:
			err = mm.handleStop()
		case actionToggle:
			if mm.State() == StateRunning {
				err = mm.handleStop()
			} else {
				err = mm.handleStart()
			}
		case actionExited:
			mm.handleExited(cmd.run)
		case actionShutdown:
			if mm.State() == StateRunning {
				err = mm.handleStop()
			}
			cmd.reply <- err
			return
		}
		if cmd.reply != nil {
			cmd.reply <- err
		}
	}
}

func (mm *ManagedModule) handleStart() error {
	if mm.State() == StateRunning {
		return ErrAlreadyRunning
	}

	spec := process.Spec{Name: mm.mod.Name, Path: mm.mod.Path, Env: mm.cfg.env, Output: mm.cfg.output}
	if mm.cfg.testing {
		spec.Args = []string{"--testing"}
	}
	proc := process.New(spec, mm.log)
	if err := proc.Start(); err != nil {
		serr := &SpawnError{Name: mm.mod.Name, Path: mm.mod.Path, Err: err}
		mm.log.Error("module could not be spawned", "error", err)
		metrics.IncSpawnFailure(mm.mod.Name)
		mm.emit(history.EventSpawnFailed, process.Status{Name: mm.mod.Name, ExitCode: -1}, err)
		return serr
	}

	mm.mu.Lock()
	mm.run++
	run := mm.run
	mm.proc = proc
	mm.mu.Unlock()
	mm.setState(StateRunning)

	st := proc.Snapshot()
	mm.log.Info("module started", "pid", st.PID)
	metrics.IncStart(mm.mod.Name)
	mm.emit(history.EventStart, st, nil)

	go mm.observe(proc, run)
	return nil
}

// observe waits for the run to end and reports it to the command loop.
func (mm *ManagedModule) observe(proc *process.Process, run uint64) {
	proc.Wait()
	select {
	case mm.cmds <- command{action: actionExited, run: run}:
	case <-mm.done:
	}
}

func (mm *ManagedModule) handleExited(run uint64) {
	mm.mu.RLock()
	current := mm.run == run && mm.proc != nil
	mm.mu.RUnlock()
	if !current {
		return
	}
	st := mm.finish()
	mm.log.Info("module exited", "pid", st.PID, "exit_code", st.ExitCode)
	mm.emit(history.EventExit, st, st.ExitErr)
}

func (mm *ManagedModule) handleStop() error {
	mm.mu.RLock()
	proc := mm.proc
	mm.mu.RUnlock()
	if proc == nil {
		return ErrNotRunning
	}

	pid := proc.Snapshot().PID
	mm.log.Info("stopping module", "pid", pid)
	if err := proc.Terminate(); err != nil {
		mm.log.Warn("terminate failed", "pid", pid, "error", err)
	}
	timer := time.NewTimer(mm.cfg.stopTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
		mm.log.Warn("module did not exit in time, killing", "pid", pid, "timeout", mm.cfg.stopTimeout.String())
		if err := proc.Kill(); err != nil {
			mm.log.Error("kill failed", "pid", pid, "error", err)
		}
		<-proc.Done()
	}

	st := mm.finish()
	mm.log.Info("module stopped", "pid", st.PID, "exit_code", st.ExitCode)
	metrics.IncStop(mm.mod.Name)
	mm.emit(history.EventStop, st, nil)
	return nil
}

// finish records the end of the current run and reverts to Stopped.
func (mm *ManagedModule) finish() process.Status {
	mm.mu.Lock()
	st := mm.proc.Snapshot()
	mm.proc = nil
	mm.last = st
	mm.mu.Unlock()
	mm.setState(StateStopped)
	metrics.IncExit(mm.mod.Name, st.ExitCode)
	return st
}

func (mm *ManagedModule) setState(s State) {
	mm.mu.Lock()
	old := mm.state
	mm.state = s
	mm.mu.Unlock()
	if old == s {
		return
	}
	metrics.RecordStateTransition(mm.mod.Name, old.String(), s.String())
	metrics.SetCurrentState(mm.mod.Name, old.String(), false)
	metrics.SetCurrentState(mm.mod.Name, s.String(), true)
}

func (mm *ManagedModule) emit(t history.EventType, st process.Status, err error) {
	if len(mm.cfg.sinks) == 0 {
		return
	}
	rec := history.Record{
		Name:     mm.mod.Name,
		Origin:   mm.mod.Origin.String(),
		Path:     mm.mod.Path,
		PID:      st.PID,
		ExitCode: st.ExitCode,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	history.Dispatch(context.Background(), mm.log, mm.cfg.sinks, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}
