package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Vars is a set of environment variables keyed by name.
type Vars map[string]string

// Env composes the environment handed to every module process.
type Env struct {
	base Vars // OS environment, when inherited
	vars Vars // overrides from env files and the config list
}

// New returns an empty Env. With inheritOS the supervisor's own environment
// is the base layer.
func New(inheritOS bool) *Env {
	e := &Env{vars: make(Vars)}
	if inheritOS {
		e.base = FromOS()
	}
	return e
}

// FromOS returns the current process environment.
func FromOS() Vars {
	base := make(Vars)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	return base
}

// Set overrides a variable.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetPairs applies "KEY=VALUE" entries in order; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.vars[k] = v
		}
	}
}

// LoadFile applies a .env file: KEY=VALUE lines, blank lines and # comments
// ignored, no quoting.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := split(line); ok {
			e.vars[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return nil
}

// Merge returns the composed environment as sorted "KEY=VALUE" pairs.
// Overrides win over the base; ${VAR} and $VAR references in override values
// are expanded against the composed set, one level deep.
func (e *Env) Merge() []string {
	m := make(Vars, len(e.base)+len(e.vars))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	lookup := func(k string) string { return m[k] }
	out := make([]string, 0, len(m))
	for k, v := range m {
		if _, override := e.vars[k]; override {
			v = os.Expand(v, lookup)
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether no variable has been set or inherited.
func (e *Env) Empty() bool { return len(e.base) == 0 && len(e.vars) == 0 }

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
