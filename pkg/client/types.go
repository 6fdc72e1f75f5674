package client

import "time"

// ModuleStatus is the status of one module as reported by the supervisor.
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

// ActionResponse is returned by start, stop and toggle.
type ActionResponse struct {
	OK     bool         `json:"ok"`
	Module ModuleStatus `json:"module"`
}

// AutostartRequest lists the modules to start in two phases.
type AutostartRequest struct {
	Modules []string `json:"modules"`
}

// AutostartResult is the outcome for one requested module.
type AutostartResult struct {
	Name  string `json:"name"`
	Phase string `json:"phase"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
