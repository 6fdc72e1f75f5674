package process

import "github.com/loykin/modvisr/internal/logger"

// Output forwarding defaults.
const (
	DefaultQueueSize    = 1024
	DefaultMaxLineBytes = 64 * 1024
)

// OutputConfig controls how a module's stdout and stderr are handled.
// Lines are forwarded to the supervisor log through a bounded queue per
// stream; when the queue is full new lines are dropped and counted. Log.File
// optionally tees the raw output into rotating files.
type OutputConfig struct {
	QueueSize    int           // lines buffered per stream (default 1024)
	MaxLineBytes int           // longer lines are split (default 64 KiB)
	Log          logger.Config // per-module file destinations
}

func (o OutputConfig) withDefaults() OutputConfig {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	return o
}

// Spec describes one module process to spawn.
type Spec struct {
	Name   string       `json:"name"`
	Path   string       `json:"path"`
	Args   []string     `json:"args"`
	Env    []string     `json:"env"` // empty inherits the supervisor environment
	Output OutputConfig `json:"-"`
}
