package process

import "time"

// Status is a point-in-time view of one run of a module process.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	ExitErr   error     `json:"-"`
}

// ExitInfo describes how a process ended. Code is -1 when the process was
// terminated by a signal.
type ExitInfo struct {
	Code int
	Err  error
}
