package process

import (
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// ErrNotStarted is returned when an operation needs a started process.
var ErrNotStarted = errors.New("process not started")

const waitDelay = 2 * time.Second

// Process is one run of a module executable. It is created per start and
// owned by exactly one supervisor entry; Wait must be called once by that
// owner after a successful Start.
type Process struct {
	spec Spec
	log  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	status  Status
	streams []io.Closer // line forwarders and rotating files, closed after exit
	done    chan struct{}
}

func New(spec Spec, log *slog.Logger) *Process {
	if log == nil {
		log = slog.Default()
	}
	spec.Output = spec.Output.withDefaults()
	return &Process{spec: spec, log: log, status: Status{Name: spec.Name}}
}

// Spec returns a copy of the process spec.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// Start spawns the executable. Output is forwarded line by line to the
// logger and, when configured, teed into rotating files.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.New("process already started")
	}

	spec := p.spec
	// #nosec G204 -- path comes from module discovery
	cmd := exec.Command(spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)
	// A grandchild holding the pipes open must not block Wait forever.
	cmd.WaitDelay = waitDelay

	out := newLineForwarder(spec.Name, "stdout", p.log, spec.Output.QueueSize, spec.Output.MaxLineBytes)
	errw := newLineForwarder(spec.Name, "stderr", p.log, spec.Output.QueueSize, spec.Output.MaxLineBytes)
	streams := []io.Closer{out, errw}
	var stdout, stderr io.Writer = out, errw
	outFile, errFile, _ := spec.Output.Log.ProcessWriters(spec.Name)
	if outFile != nil {
		stdout = io.MultiWriter(out, outFile)
		streams = append(streams, outFile)
	}
	if errFile != nil {
		stderr = io.MultiWriter(errw, errFile)
		streams = append(streams, errFile)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		closeAll(streams)
		return err
	}
	p.cmd = cmd
	p.streams = streams
	p.done = make(chan struct{})
	p.status = Status{
		Name:      spec.Name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	return nil
}

// Wait blocks until the process exits, drains its output and records the
// exit status.
func (p *Process) Wait() ExitInfo {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()
	if cmd == nil {
		return ExitInfo{Code: -1, Err: ErrNotStarted}
	}

	err := cmd.Wait()
	info := ExitInfo{Code: -1, Err: err}
	if cmd.ProcessState != nil {
		info.Code = cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	streams := p.streams
	p.streams = nil
	p.mu.Unlock()
	closeAll(streams)

	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitCode = info.Code
	p.status.ExitErr = err
	p.mu.Unlock()
	close(done)
	return info
}

// Done is closed once Wait has observed the exit. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Terminate asks the process to exit (SIGTERM to its process group on unix).
func (p *Process) Terminate() error {
	cmd := p.started()
	if cmd == nil {
		return ErrNotStarted
	}
	return terminate(cmd.Process)
}

// Kill ends the process immediately.
func (p *Process) Kill() error {
	cmd := p.started()
	if cmd == nil {
		return ErrNotStarted
	}
	return kill(cmd.Process)
}

func (p *Process) started() *exec.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
