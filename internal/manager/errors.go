package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no discovered module has the requested name.
	ErrNotFound = errors.New("module not found")
	// ErrAlreadyRunning is returned by Start on a running module.
	ErrAlreadyRunning = errors.New("module already running")
	// ErrNotRunning is returned by a module's Stop when it has nothing to stop.
	ErrNotRunning = errors.New("module not running")
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("module registry already initialized")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("module manager shutting down")
)

// SpawnError reports that a module executable could not be launched.
type SpawnError struct {
	Name string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn module %q (%s): %v", e.Name, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
